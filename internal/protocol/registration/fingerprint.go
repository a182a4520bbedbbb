package registration

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	cbor "github.com/fxamacker/cbor/v2"
)

// Descriptor is the wire-relevant shape of one registration.
type Descriptor struct {
	ID     int16             `cbor:"1,keyasint" json:"id"`
	Module int8              `cbor:"2,keyasint" json:"module"`
	Name   string            `cbor:"3,keyasint" json:"name"`
	Fields []FieldDescriptor `cbor:"4,keyasint" json:"fields"`
}

type FieldDescriptor struct {
	Name string `cbor:"1,keyasint" json:"name"`
	Type string `cbor:"2,keyasint" json:"type"`
}

// Describe returns descriptors ordered by protocol id.
func Describe(entries []*Registration) []Descriptor {
	out := make([]Descriptor, 0, len(entries))
	for _, r := range entries {
		d := Descriptor{ID: r.id, Module: r.module, Name: r.name, Fields: make([]FieldDescriptor, 0, len(r.fields))}
		for _, f := range r.fields {
			d.Fields = append(d.Fields, FieldDescriptor{Name: f.Name, Type: f.Type.String()})
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarshalDescriptors encodes descriptors as canonical CBOR.
func MarshalDescriptors(descs []Descriptor) ([]byte, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(descs)
}

func UnmarshalDescriptors(data []byte) ([]Descriptor, error) {
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	var descs []Descriptor
	if err := dm.Unmarshal(data, &descs); err != nil {
		return nil, err
	}
	return descs, nil
}

// Fingerprint hashes the canonical descriptor encoding. Peers with equal
// fingerprints agree on every protocol id, module and field layout.
func Fingerprint(entries []*Registration) (string, error) {
	return FingerprintDescriptors(Describe(entries))
}

func FingerprintDescriptors(descs []Descriptor) (string, error) {
	data, err := MarshalDescriptors(descs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
