package intent

import "encoding/json"

// PatchOp is a single JSON-Patch operation. The wire format is the standard
// `{"op":..,"path":..,"value":..}` object; Remove omits the value key.
type PatchOp struct {
	Op    string
	Path  string
	Value any
}

// MarshalJSON keeps the value key for add/replace even when the value is a
// zero value (false, "", 0), and drops it for remove.
func (p PatchOp) MarshalJSON() ([]byte, error) {
	if p.Op == "remove" {
		return json.Marshal(struct {
			Op   string `json:"op"`
			Path string `json:"path"`
		}{p.Op, p.Path})
	}
	return json.Marshal(struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		Value any    `json:"value"`
	}{p.Op, p.Path, p.Value})
}

// PatchBuilder accumulates JSON-Patch operations in order.
type PatchBuilder struct {
	ops []PatchOp
}

// Replace appends a replace operation for path.
func (b *PatchBuilder) Replace(path string, value any) *PatchBuilder {
	b.ops = append(b.ops, PatchOp{Op: "replace", Path: path, Value: value})
	return b
}

// Add appends an add operation for path.
func (b *PatchBuilder) Add(path string, value any) *PatchBuilder {
	b.ops = append(b.ops, PatchOp{Op: "add", Path: path, Value: value})
	return b
}

// Remove appends a remove operation for path.
func (b *PatchBuilder) Remove(path string) *PatchBuilder {
	b.ops = append(b.ops, PatchOp{Op: "remove", Path: path})
	return b
}

// Build returns the accumulated operations in insertion order.
func (b *PatchBuilder) Build() []PatchOp {
	out := make([]PatchOp, len(b.ops))
	copy(out, b.ops)
	return out
}

// MarshalPatch serialises operations as a JSON-Patch array.
func MarshalPatch(ops []PatchOp) ([]byte, error) {
	if ops == nil {
		ops = []PatchOp{}
	}
	return json.Marshal(ops)
}
