// Package meta implements the collective metadata state machine:
// define-mode/data-mode transitions, dimension/variable/attribute
// definition and inquiry, and the record-frame cursor. Every operation is
// collective over a file's I/O group, but backend calls happen only on
// the I/O task; results are broadcast so every rank observes the same
// return code (the collective error-broadcast idiom, abstracted here as
// collectiveIO).
//
// Each rank additionally keeps a buntdb-indexed local cache of the
// catalog mirrored from the authoritative backend, keyed by name so
// repeated inquiries don't need a fresh backend round-trip; attribute
// values and variable dimension-id lists are JSON-encoded with
// json-iterator into that cache. This caches *metadata*, not variable
// data: variable data is never cached across calls.
package meta

import (
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/comm"
	"github.com/MPAS-Dev/smiol-go/internal/nlog"
	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type State int

const (
	Define State = iota
	Data
)

func (s State) String() string {
	if s == Define {
		return "define"
	}
	return "data"
}

// GlobalAttVar is the sentinel variable id denoting a global (rather
// than per-variable) attribute.
const GlobalAttVar = -1

type dimRecord struct {
	ID   int
	Size int64
}

type varRecord struct {
	ID     int
	VType  backend.VarType
	DimIDs []int
}

type attRecord struct {
	VType backend.VarType
	Value []byte
}

// Meta is the per-File metadata state machine.
type Meta struct {
	be       backend.Backend
	ioTasks  comm.Communicator // all-I/O-tasks communicator: exactly one rank (its rank 0) actually calls the backend
	group    comm.Communicator // this rank's (I/O rank + followers) segment: fans the result out to non-I/O ranks
	isIOTask bool
	log      *nlog.Logger

	mu    sync.Mutex
	state State
	db    *buntdb.DB

	frame int64
}

// New builds a Meta bound to an already-open backend. ioTasks groups
// every I/O rank in the file (so exactly one of them - its local rank 0 -
// performs each backend call); group is this rank's I/O-rank-plus-
// followers segment (so the I/O task can fan the result out to its own
// non-I/O followers). This mirrors the two communicators Context
// attaches to every file: one across all I/O ranks, one per I/O rank and
// its followers. initialState is Define for a freshly created file, Data
// for a file opened for read/write of existing content.
func New(be backend.Backend, ioTasks, group comm.Communicator, isIOTask bool, initialState State, log *nlog.Logger) *Meta {
	db, _ := buntdb.Open(":memory:")
	return &Meta{be: be, ioTasks: ioTasks, group: group, isIOTask: isIOTask, state: initialState, db: db, log: log}
}

func (m *Meta) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

func (m *Meta) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// collectiveIO runs fn exactly once - on rank 0 of the all-I/O-tasks
// communicator - broadcasts its encoded result (or error) to the rest of
// the I/O tasks, then has every I/O task fan that same payload out to its
// own non-I/O followers over the per-segment group communicator. Every
// rank in the file, I/O task or not, ends up with the identical decoded
// payload.
func (m *Meta) collectiveIO(fn func() ([]byte, error)) ([]byte, error) {
	var payload []byte
	if m.isIOTask {
		if m.ioTasks.Rank() == 0 {
			data, err := fn()
			if err != nil {
				payload = append([]byte{1}, []byte(err.Error())...)
			} else {
				payload = append([]byte{0}, data...)
			}
		}
		res, err := m.ioTasks.Bcast(0, payload)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.MessagingError, err)
		}
		payload = res
	}
	res, err := m.group.Bcast(0, payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.MessagingError, err)
	}
	if len(res) == 0 {
		return nil, xerrors.New(xerrors.LibraryError, "collective backend call produced no response")
	}
	if res[0] == 1 {
		return nil, xerrors.Library("smiol-backend", 1, fmt.Errorf("%s", string(res[1:])))
	}
	return res[1:], nil
}

// transition performs a collective state change, broadcasting success
// across every rank of the I/O group via the backend return code so the
// new state is mirrored everywhere.
func (m *Meta) transition(to State) error {
	_, err := m.collectiveIO(func() ([]byte, error) { return nil, nil })
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.state = to
	m.mu.Unlock()
	return nil
}

func (m *Meta) DefineDim(name string, size int64) (int, error) {
	if size == 0 {
		return 0, xerrors.New(xerrors.InvalidArgument, "define_dim: size 0 is rejected")
	}
	m.mu.Lock()
	needsTransition := m.state == Data
	m.mu.Unlock()
	if needsTransition {
		if err := m.transition(Define); err != nil {
			return 0, err
		}
	}
	payload, err := m.collectiveIO(func() ([]byte, error) {
		id, err := m.be.DefineDim(name, size)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dimRecord{ID: id, Size: size})
	})
	if err != nil {
		return 0, err
	}
	var rec dimRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return 0, xerrors.Wrap(xerrors.ForeignBindingError, err)
	}
	m.putDim(name, rec)
	return rec.ID, nil
}

func (m *Meta) InquireDim(name string) (id int, size int64, err error) {
	if rec, ok := m.getDim(name); ok {
		return rec.ID, rec.Size, nil
	}
	payload, err := m.collectiveIO(func() ([]byte, error) {
		id, size, err := m.be.InquireDim(name)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dimRecord{ID: id, Size: size})
	})
	if err != nil {
		return 0, 0, err
	}
	var rec dimRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return 0, 0, xerrors.Wrap(xerrors.ForeignBindingError, err)
	}
	m.putDim(name, rec)
	return rec.ID, rec.Size, nil
}

func (m *Meta) DefineVar(name string, vtype backend.VarType, dimNames []string) (int, error) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state != Define {
		return 0, xerrors.New(xerrors.InvalidArgument, "define_var: file is not in define mode")
	}
	if vtype == backend.Unknown {
		return 0, xerrors.New(xerrors.WrongArgType, "define_var: unknown variable type")
	}
	dimIDs := make([]int, len(dimNames))
	for i, dn := range dimNames {
		id, _, err := m.InquireDim(dn)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.InvalidArgument, err)
		}
		dimIDs[i] = id
	}
	payload, err := m.collectiveIO(func() ([]byte, error) {
		id, err := m.be.DefineVar(name, vtype, dimIDs)
		if err != nil {
			return nil, err
		}
		return json.Marshal(varRecord{ID: id, VType: vtype, DimIDs: dimIDs})
	})
	if err != nil {
		return 0, err
	}
	var rec varRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return 0, xerrors.Wrap(xerrors.ForeignBindingError, err)
	}
	m.putVar(name, rec)
	return rec.ID, nil
}

func (m *Meta) InquireVar(name string) (id int, vtype backend.VarType, dimIDs []int, err error) {
	if rec, ok := m.getVar(name); ok {
		return rec.ID, rec.VType, rec.DimIDs, nil
	}
	payload, err := m.collectiveIO(func() ([]byte, error) {
		id, vtype, dimIDs, err := m.be.InquireVar(name)
		if err != nil {
			return nil, err
		}
		return json.Marshal(varRecord{ID: id, VType: vtype, DimIDs: dimIDs})
	})
	if err != nil {
		return 0, backend.Unknown, nil, err
	}
	var rec varRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return 0, backend.Unknown, nil, xerrors.Wrap(xerrors.ForeignBindingError, err)
	}
	m.putVar(name, rec)
	return rec.ID, rec.VType, rec.DimIDs, nil
}

// DefineAtt auto-transitions to DEFINE. varID is GlobalAttVar for a
// global attribute. For character attributes, length is the string
// length; for every other type it is one.
func (m *Meta) DefineAtt(varID int, name string, vtype backend.VarType, value []byte) error {
	if err := m.transition(Define); err != nil {
		return err
	}
	_, err := m.collectiveIO(func() ([]byte, error) {
		return nil, m.be.DefineAtt(varID, name, vtype, value)
	})
	if err != nil {
		return err
	}
	m.putAtt(varID, name, attRecord{VType: vtype, Value: value})
	return nil
}

func (m *Meta) InquireAtt(varID int, name string) (vtype backend.VarType, value []byte, err error) {
	if rec, ok := m.getAtt(varID, name); ok {
		return rec.VType, rec.Value, nil
	}
	payload, err := m.collectiveIO(func() ([]byte, error) {
		vtype, value, err := m.be.InquireAtt(varID, name)
		if err != nil {
			return nil, err
		}
		return json.Marshal(attRecord{VType: vtype, Value: value})
	})
	if err != nil {
		return backend.Unknown, nil, err
	}
	var rec attRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return backend.Unknown, nil, xerrors.Wrap(xerrors.ForeignBindingError, err)
	}
	m.putAtt(varID, name, rec)
	return rec.VType, rec.Value, nil
}

// EnsureData auto-transitions to DATA if currently in DEFINE, used by the
// put/get façade before issuing variable I/O.
func (m *Meta) EnsureData() error {
	m.mu.Lock()
	needsTransition := m.state == Define
	m.mu.Unlock()
	if !needsTransition {
		return nil
	}
	return m.transition(Data)
}

// SyncTransition auto-transitions to DATA; called by sync_file.
func (m *Meta) SyncTransition() error { return m.transition(Data) }

func (m *Meta) SetFrame(frame int64) { m.mu.Lock(); m.frame = frame; m.mu.Unlock() }
func (m *Meta) GetFrame() int64      { m.mu.Lock(); defer m.mu.Unlock(); return m.frame }

// --- local buntdb-backed cache ---

func (m *Meta) putDim(name string, rec dimRecord) {
	b, _ := json.Marshal(rec)
	_ = m.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set("dim:"+name, string(b), nil); err != nil {
			return err
		}
		_, _, err := tx.Set(fmt.Sprintf("dimid:%d", rec.ID), string(b), nil)
		return err
	})
}

// InquireDimByID resolves a dimension's size by id from the local cache,
// which is always populated by the time a variable referencing that
// dimension has been defined or inquired by name. put_var/get_var need a
// dimension's size and unlimited-ness by id to derive start/count, but
// the metadata surface is keyed by name; this avoids a second collective
// round-trip for information already resolved once.
func (m *Meta) InquireDimByID(id int) (size int64, ok bool) {
	var rec dimRecord
	found := false
	_ = m.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(fmt.Sprintf("dimid:%d", id))
		if err != nil {
			return nil
		}
		if json.Unmarshal([]byte(v), &rec) == nil {
			found = true
		}
		return nil
	})
	return rec.Size, found
}

func (m *Meta) getDim(name string) (dimRecord, bool) {
	var rec dimRecord
	found := false
	_ = m.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get("dim:" + name)
		if err != nil {
			return nil
		}
		if json.Unmarshal([]byte(v), &rec) == nil {
			found = true
		}
		return nil
	})
	return rec, found
}

func (m *Meta) putVar(name string, rec varRecord) {
	b, _ := json.Marshal(rec)
	_ = m.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("var:"+name, string(b), nil)
		return err
	})
}

func (m *Meta) getVar(name string) (varRecord, bool) {
	var rec varRecord
	found := false
	_ = m.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get("var:" + name)
		if err != nil {
			return nil
		}
		if json.Unmarshal([]byte(v), &rec) == nil {
			found = true
		}
		return nil
	})
	return rec, found
}

func (m *Meta) putAtt(varID int, name string, rec attRecord) {
	key := fmt.Sprintf("att:%d:%s", varID, name)
	b, _ := json.Marshal(rec)
	_ = m.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(b), nil)
		return err
	})
}

func (m *Meta) getAtt(varID int, name string) (attRecord, bool) {
	key := fmt.Sprintf("att:%d:%s", varID, name)
	var rec attRecord
	found := false
	_ = m.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return nil
		}
		if json.Unmarshal([]byte(v), &rec) == nil {
			found = true
		}
		return nil
	})
	return rec, found
}
