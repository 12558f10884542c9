package verifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

// Parse fills the artifact, public signals and proof size of a response from a worker's body.
// A proof may arrive as a hex string, as a JSON document encoded in a string, or as a JSON value.
// Public signals may arrive as a JSON document encoded in a string or as a JSON value;
// absent or empty signals are left nil.
func Parse(resp *shared.MinerResponse, body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("%w: body is not a JSON document", types.ErrMalformedResponse)
	}
	resp.Raw = body

	proof := gjson.GetBytes(body, "proof")
	switch {
	case proof.Type == gjson.Null:
	case proof.Type == gjson.String:
		s := strings.TrimSpace(proof.Str)
		switch {
		case s == "":
		case isHex(s):
			artifact, err := json.Marshal(s)
			if err != nil {
				return fmt.Errorf("encoding proof: %w", err)
			}
			resp.Artifact = artifact
		case gjson.Valid(s):
			resp.Artifact = json.RawMessage(s)
		default:
			return fmt.Errorf("%w: proof is neither hex nor JSON", types.ErrMalformedResponse)
		}
	default:
		resp.Artifact = json.RawMessage(proof.Raw)
	}
	resp.ProofSize = proofSize(resp.Circuit, resp.Artifact)

	signals := gjson.GetBytes(body, "public_signals")
	switch signals.Type {
	case gjson.Null:
	case gjson.String:
		s := strings.TrimSpace(signals.Str)
		if s == "" {
			break
		}
		if !gjson.Valid(s) {
			return fmt.Errorf("%w: public signals are not JSON", types.ErrMalformedResponse)
		}
		resp.PublicSignals = nonEmpty(gjson.Parse(s))
	default:
		resp.PublicSignals = nonEmpty(signals)
	}
	return nil
}

func nonEmpty(v gjson.Result) json.RawMessage {
	switch {
	case v.Type == gjson.Null:
		return nil
	case v.IsArray() && len(v.Array()) == 0:
		return nil
	case v.IsObject() && len(v.Map()) == 0:
		return nil
	}
	return json.RawMessage(v.Raw)
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		default:
			return false
		}
	}
	return s != ""
}

// proofSize estimates the size of an artifact the way each proof system reports it.
func proofSize(c *shared.Circuit, artifact json.RawMessage) int {
	if len(artifact) == 0 {
		return shared.DefaultProofSize
	}
	v := gjson.ParseBytes(artifact)
	size := 0
	switch {
	case v.Type == gjson.String:
		size = len(v.Str)
	case c == nil:
	case c.ProofSystem == "circom":
		for _, key := range []string{"pi_a", "pi_b", "pi_c"} {
			v.Get(key).ForEach(func(_, element gjson.Result) bool {
				if element.IsArray() {
					for _, value := range element.Array() {
						size += len(value.String())
					}
				} else {
					size += len(element.String())
				}
				return true
			})
		}
	case c.ProofSystem == "ezkl":
		p := v.Get("proof")
		if p.IsArray() {
			size = len(p.Array())
		} else {
			size = len(p.String())
		}
	}
	if size == 0 {
		return shared.DefaultProofSize
	}
	return size
}
