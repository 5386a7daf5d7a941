package pg

import (
	"encoding/json"
	"fmt"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// encodeProfile stores the role-specific data of a record in the profile column.
// The role column is the discriminator, so the JSON itself carries no type tag.
func encodeProfile(p goIdentity.RoleProfile) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func decodeProfile(role string, raw []byte) (goIdentity.RoleProfile, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch role {
	case goIdentity.RoleClient:
		var p goIdentity.ClientProfile
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode client profile: %w", err)
		}
		return p, nil
	case goIdentity.RoleEmployee:
		var p goIdentity.EmployeeProfile
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode employee profile: %w", err)
		}
		return p, nil
	case goIdentity.RoleAdmin:
		var p goIdentity.AdminProfile
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode admin profile: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}
