package nl80211

import (
	"fmt"
	"time"
)

// resolveFamily asks the generic-netlink control family for name's dynamic
// family id and multicast group ids (spec.md §4.D: "resolves the nl80211
// family id").
func resolveFamily(s *socket, name string) (familyID uint16, groups map[string]uint32, err error) {
	var nameAttr = attrString(ctrlAttrFamName, name)

	var msg = s.request(genlIDCtrl, 0, ctrlCmdGetFamily, nameAttr)
	if sendErr := s.send(msg); sendErr != nil {
		return 0, nil, sendErr
	}

	var _, _, attrs, recvErr = s.recvOne(2 * time.Second)
	if recvErr != nil {
		return 0, nil, fmt.Errorf("nl80211: resolve family %q: %w", name, recvErr)
	}

	groups = make(map[string]uint32)

	for _, a := range parseAttrs(attrs) {
		switch a.Type {
		case ctrlAttrFamilyID:
			var id, idErr = u16(a.Payload)
			if idErr != nil {
				return 0, nil, fmt.Errorf("nl80211: family id: %w", idErr)
			}

			familyID = id
		case ctrlAttrMcastGrps:
			for _, grp := range a.Children {
				var grpName string

				var grpID uint32

				for _, sub := range parseAttrs(grp.Payload) {
					switch sub.Type {
					case ctrlAttrMcastName:
						grpName = trimNulString(sub.Payload)
					case ctrlAttrMcastID:
						if id, idErr := u32(sub.Payload); idErr == nil {
							grpID = id
						}
					}
				}

				if grpName != "" {
					groups[grpName] = grpID
				}
			}
		}
	}

	if familyID == 0 {
		return 0, nil, fmt.Errorf("nl80211: family %q not found", name)
	}

	return familyID, groups, nil
}

func attrString(attrType uint16, s string) []byte {
	var b = append([]byte(s), 0)

	return attr(attrType, b)
}

func trimNulString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}

	return string(b)
}
