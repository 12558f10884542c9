package ledger

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/proofmesh/proofmesh/shared"
)

type fileMember struct {
	UID      uint16  `toml:"uid"`
	Address  string  `toml:"address"`
	Identity string  `toml:"identity"`
	Owner    string  `toml:"owner"`
	Stake    float64 `toml:"stake"`
	Permit   bool    `toml:"permit"`
}

type membersFile struct {
	Members []fileMember `toml:"member"`
}

// LoadMembers reads a devnet membership file with one [[member]] table per participant.
func LoadMembers(path string) ([]shared.Member, error) {
	data, err := os.ReadFile(path) //#nosec G304
	if err != nil {
		return nil, fmt.Errorf("reading members file: %w", err)
	}
	return ParseMembers(data)
}

func ParseMembers(data []byte) ([]shared.Member, error) {
	var f membersFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding members: %w", err)
	}
	seen := make(map[string]bool, len(f.Members))
	members := make([]shared.Member, 0, len(f.Members))
	for _, fm := range f.Members {
		if fm.Identity == "" {
			return nil, fmt.Errorf("member %d: missing identity", fm.UID)
		}
		if seen[fm.Identity] {
			return nil, fmt.Errorf("member %s: listed twice", fm.Identity)
		}
		seen[fm.Identity] = true
		members = append(members, shared.Member{
			WorkerInfo: shared.WorkerInfo{
				UID:      fm.UID,
				Address:  fm.Address,
				Identity: fm.Identity,
				Owner:    fm.Owner,
			},
			Stake:  fm.Stake,
			Permit: fm.Permit,
		})
	}
	return members, nil
}
