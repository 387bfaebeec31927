// Package vendorcmd implements the vendor-command backend: OUI-scoped
// subcommands and events carried over nl80211's NL80211_CMD_VENDOR, layered
// on the netlink backend (spec.md §4.E).
package vendorcmd

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/halow-ap/dcsd/internal/backend"
	"github.com/halow-ap/dcsd/internal/backend/nl80211"
	"github.com/halow-ap/dcsd/internal/dataitem"
)

// VendorOUI is the OUI scoping all subcommands and events this backend
// issues and accepts (spec.md §4.E).
const VendorOUI = 0x0CBF74

// OCSDone is the vendor-event subcommand id the DCS core accepts measurement
// completions on (spec.md §4.E, §6).
const OCSDone = 1

const recordFlagRequest = 0x0001

// Record is one vendor subcommand record, as framed on the wire:
// {message_id u16 LE, length u16 LE, flags u16 LE, payload}.
type Record struct {
	MessageID uint16
	Payload   []byte
}

// RecordResult is one decoded response record.
type RecordResult struct {
	MessageID uint16
	Status    int16
	Data      []byte
}

// netlinker is the subset of nl80211.Backend this package depends on; kept
// narrow so tests can substitute a fake.
type netlinker interface {
	backend.Backend
	Ifindex() int
}

// Backend wraps a netlink backend to carry vendor subcommands/events.
type Backend struct {
	log *log.Logger
	nl  netlinker
}

var _ backend.Backend = (*Backend)(nil)

// New wraps nl as the vendor-command backend.
func New(logger *log.Logger, nl netlinker) *Backend {
	return &Backend{log: logger.With("backend", "vendorcmd"), nl: nl}
}

func (b *Backend) Name() string { return "vendorcmd" }

// SubmitBlocking issues one NL80211_CMD_VENDOR command per Record in
// request (built by ParseRequestArgs) and returns a sibling chain of
// string-keyed nodes "0", "1", ..., one per record, each holding the
// record's raw Data. A non-zero status fails only that record, per
// spec.md §4.E, and later records still run; the first such failure is
// returned as the error alongside the chain.
func (b *Backend) SubmitBlocking(ctx context.Context, request *dataitem.Node) (*dataitem.Node, error) {
	var records = decodeRequestRecords(request)
	if len(records) == 0 {
		return nil, fmt.Errorf("vendorcmd: no subcommand records in request")
	}

	var head, tail *dataitem.Node

	var firstErr error

	for i, rec := range records {
		var wire = encodeRecord(rec)

		var nlReq, buildErr = b.nl.ParseRequestArgs(
			nl80211.CmdVendor,
			uint16(nl80211.AttrIfindex), uint32(b.nl.Ifindex()), //nolint:gosec
			uint16(nl80211.AttrVendorID), uint32(VendorOUI),
			uint16(nl80211.AttrVendorSubcmd), uint32(0),
			uint16(nl80211.AttrVendorData), wire,
		)
		if buildErr != nil {
			return nil, fmt.Errorf("vendorcmd: build request: %w", buildErr)
		}

		var resp, submitErr = b.nl.SubmitBlocking(ctx, nlReq)
		if submitErr != nil {
			return nil, fmt.Errorf("vendorcmd: record %d: %w", i, submitErr)
		}

		var result, decodeErr = decodeResponse(resp)
		if decodeErr != nil {
			return nil, fmt.Errorf("vendorcmd: record %d: %w", i, decodeErr)
		}

		var node = dataitem.New(dataitem.StrKey(fmt.Sprint(i)), result.Data)
		if head == nil {
			head = node
			tail = node
		} else {
			tail.Next = node
			tail = node
		}

		if result.Status != 0 && firstErr == nil {
			firstErr = fmt.Errorf("vendorcmd: record %d (message_id=%d): command failed, status=%d",
				i, result.MessageID, result.Status)
		}
	}

	return head, firstErr
}

// PumpAsync delegates to the underlying netlink backend and filters for
// VENDOR events scoped to VendorOUI/OCSDone; anything else is dropped
// (returned as (nil, nil)) so the event engine's caller simply retries.
func (b *Backend) PumpAsync(ctx context.Context, timeout time.Duration) (*dataitem.Node, error) {
	var event, err = b.nl.PumpAsync(ctx, timeout)
	if err != nil || event == nil {
		return nil, err
	}

	if event.Key.Int != nl80211.CmdVendor {
		return nil, nil
	}

	var vendorID = dataitem.FindSibling(event.Children, dataitem.IntKey(nl80211.AttrVendorID))
	var subcmd = dataitem.FindSibling(event.Children, dataitem.IntKey(nl80211.AttrVendorSubcmd))

	if vendorID == nil || subcmd == nil {
		return nil, nil
	}

	if leU32(vendorID.Value) != VendorOUI || leU32(subcmd.Value) != OCSDone {
		return nil, nil
	}

	var dataNode = dataitem.FindSibling(event.Children, dataitem.IntKey(nl80211.AttrVendorData))
	if dataNode == nil {
		return nil, fmt.Errorf("vendorcmd: OCS_DONE event missing vendor data")
	}

	var result, decodeErr = decodeResponse(dataNode)
	if decodeErr != nil {
		return nil, fmt.Errorf("vendorcmd: OCS_DONE event: %w", decodeErr)
	}

	return dataitem.New(dataitem.StrKey("OCS_DONE"), result.Data), nil
}

// ParseRequestArgs builds a request tree from one or more Record values.
func (b *Backend) ParseRequestArgs(args ...any) (*dataitem.Node, error) {
	var root = dataitem.New(dataitem.StrKey("vendor_request"), nil)

	for i, a := range args {
		rec, ok := a.(Record)
		if !ok {
			return nil, fmt.Errorf("vendorcmd: arg %d is not a Record", i)
		}

		root.Append(dataitem.New(dataitem.StrKey(fmt.Sprint(i)), encodeRecord(rec)))
	}

	return root, nil
}

func encodeRecord(rec Record) []byte {
	var buf = make([]byte, 6+len(rec.Payload))

	binary.LittleEndian.PutUint16(buf[0:2], rec.MessageID)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(rec.Payload))) //nolint:gosec
	binary.LittleEndian.PutUint16(buf[4:6], recordFlagRequest)
	copy(buf[6:], rec.Payload)

	return buf
}

func decodeRequestRecords(request *dataitem.Node) []Record {
	var out []Record

	for child := request.Children; child != nil; child = child.Next {
		if len(child.Value) < 6 {
			continue
		}

		var length = binary.LittleEndian.Uint16(child.Value[2:4])
		var end = 6 + int(length)

		if end > len(child.Value) {
			end = len(child.Value)
		}

		out = append(out, Record{
			MessageID: binary.LittleEndian.Uint16(child.Value[0:2]),
			Payload:   child.Value[6:end],
		})
	}

	return out
}

// decodeResponse decodes a VENDOR_DATA payload as
// {message_id, length, flags, status i16 LE, data[length]}.
func decodeResponse(dataNode *dataitem.Node) (RecordResult, error) {
	if dataNode == nil || len(dataNode.Value) < 8 {
		return RecordResult{}, fmt.Errorf("vendorcmd: response too short")
	}

	var v = dataNode.Value
	var messageID = binary.LittleEndian.Uint16(v[0:2])
	var length = binary.LittleEndian.Uint16(v[2:4])
	var status = int16(binary.LittleEndian.Uint16(v[6:8])) //nolint:gosec

	var end = 8 + int(length)
	if end > len(v) {
		end = len(v)
	}

	return RecordResult{MessageID: messageID, Status: status, Data: v[8:end]}, nil
}

func leU32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}
