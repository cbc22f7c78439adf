package core

import "fmt"

// CodeExecutor (C3's collaborator) runs a named entry point of the on-chain
// code against an Externalities façade. It is treated as an opaque,
// deterministic collaborator (spec §1, §6): "execute(externalities,
// method_name, input_bytes) -> Result<return_bytes>; deterministic given
// identical externalities and inputs."
type CodeExecutor interface {
	Execute(ext Externalities, methodName string, input []byte) ([]byte, error)
}

// Externalities is the read/write storage façade a CodeExecutor runs
// against: an OverlayedChanges layered over an immutable StateView. Reads
// consult the overlay first, then fall through to the view; writes land in
// the overlay.
type Externalities interface {
	Get(key []byte) ([]byte, bool, error)
	Set(key, value []byte)
	Delete(key []byte)
}

// OverlayedChanges is a mutable diff layered over a committed StateView,
// holding writes pending commit. A nil entry value is a tombstone (delete).
// It is stack-local per call and is never shared — the caller supplies a
// fresh one so read-only calls can discard it and import can persist it.
type OverlayedChanges struct {
	writes map[string][]byte
	dels   map[string]struct{}
}

// NewOverlay returns an empty OverlayedChanges.
func NewOverlay() *OverlayedChanges {
	return &OverlayedChanges{writes: make(map[string][]byte), dels: make(map[string]struct{})}
}

func (o *OverlayedChanges) set(key string, value []byte) {
	delete(o.dels, key)
	o.writes[key] = value
}

func (o *OverlayedChanges) delete(key string) {
	delete(o.writes, key)
	o.dels[key] = struct{}{}
}

func (o *OverlayedChanges) get(key string) (value []byte, shadowed bool) {
	if _, deleted := o.dels[key]; deleted {
		return nil, true
	}
	if v, ok := o.writes[key]; ok {
		return v, true
	}
	return nil, false
}

// Delta snapshots the overlay as a {key -> Some(bytes)|None} set: a nil
// slice value means the key was deleted.
func (o *OverlayedChanges) Delta() map[string][]byte {
	out := make(map[string][]byte, len(o.writes)+len(o.dels))
	for k, v := range o.writes {
		out[k] = v
	}
	for k := range o.dels {
		out[k] = nil
	}
	return out
}

// facade is the concrete Externalities implementation the bridge installs.
type facade struct {
	view    StateView
	overlay *OverlayedChanges
}

// NewExternalities builds the read/write façade layering overlay over view,
// for use by Client.UsingEnvironment / UsingEnvironmentAt (spec §4.5).
func NewExternalities(view StateView, overlay *OverlayedChanges) Externalities {
	return &facade{view: view, overlay: overlay}
}

func (f *facade) Get(key []byte) ([]byte, bool, error) {
	if v, shadowed := f.overlay.get(string(key)); shadowed {
		return v, v != nil, nil
	}
	return f.view.Get(key)
}

func (f *facade) Set(key, value []byte) {
	f.overlay.set(string(key), append([]byte(nil), value...))
}

func (f *facade) Delete(key []byte) {
	f.overlay.delete(string(key))
}

// Execute runs the Execution Bridge (C3): it layers overlay over view,
// invokes executor under that façade, and returns the executor's raw return
// buffer plus the accumulated storage delta. The bridge itself holds no
// state across calls — overlay is supplied by the caller.
//
// Execution failures — missing code, a panic inside the runtime, or
// externalities misuse — are surfaced as a single Execution-kind Error
// carrying the underlying message (spec §4.3).
func Execute(view StateView, overlay *OverlayedChanges, executor CodeExecutor, methodName string, input []byte) (ret []byte, delta map[string][]byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			ret, delta, err = nil, nil, newError(Execution, fmt.Errorf("panic: %v", r), "execute "+methodName)
		}
	}()
	ext := NewExternalities(view, overlay)
	ret, err = executor.Execute(ext, methodName, input)
	if err != nil {
		return nil, nil, newError(Execution, err, "execute "+methodName)
	}
	return ret, overlay.Delta(), nil
}
