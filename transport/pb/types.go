package pb

import "google.golang.org/protobuf/encoding/protowire"

// Entry mirrors raft.Entry on the wire. Kind is carried as a plain uint64
// varint rather than an enum descriptor, since there is no .proto to
// declare one against.
type Entry struct {
	Term    uint64
	Index   uint64
	Payload []byte
	Kind    uint64
}

func (e *Entry) marshal() []byte {
	var b []byte
	b = putUint64(b, entryFieldTerm, e.Term)
	b = putUint64(b, entryFieldIndex, e.Index)
	b = putBytes(b, entryFieldPayload, e.Payload)
	b = putUint64(b, entryFieldKind, e.Kind)
	return b
}

func unmarshalEntry(data []byte) (*Entry, error) {
	e := &Entry{}
	err := walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case entryFieldTerm:
			e.Term = asUint64(v)
		case entryFieldIndex:
			e.Index = asUint64(v)
		case entryFieldPayload:
			e.Payload = append([]byte{}, v...)
		case entryFieldKind:
			e.Kind = asUint64(v)
		}
		return nil
	})
	return e, err
}

func putEntries(b []byte, field protowire.Number, entries []*Entry) []byte {
	for _, e := range entries {
		b = putEmbedded(b, field, e.marshal())
	}
	return b
}

type VoteRequest struct {
	CandidateID  [16]byte
	Term         uint64
	LastLogIndex uint64
	LastLogTerm  uint64
}

func (m *VoteRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putID(b, fieldCandidateID, m.CandidateID)
	b = putUint64(b, fieldTerm, m.Term)
	b = putUint64(b, fieldLastLogIndex, m.LastLogIndex)
	b = putUint64(b, fieldLastLogTerm, m.LastLogTerm)
	return b, nil
}

func (m *VoteRequest) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldCandidateID:
			m.CandidateID = asID(v)
		case fieldTerm:
			m.Term = asUint64(v)
		case fieldLastLogIndex:
			m.LastLogIndex = asUint64(v)
		case fieldLastLogTerm:
			m.LastLogTerm = asUint64(v)
		}
		return nil
	})
}

type VoteResponse struct {
	Term    uint64
	Granted bool
}

func (m *VoteResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putUint64(b, fieldTerm, m.Term)
	b = putBool(b, fieldGranted, m.Granted)
	return b, nil
}

func (m *VoteResponse) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldTerm:
			m.Term = asUint64(v)
		case fieldGranted:
			m.Granted = asBool(v)
		}
		return nil
	})
}

type PreVoteRequest struct {
	CandidateID  [16]byte
	NextTerm     uint64
	LastLogIndex uint64
	LastLogTerm  uint64
}

func (m *PreVoteRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putID(b, fieldCandidateID, m.CandidateID)
	b = putUint64(b, fieldNextTerm, m.NextTerm)
	b = putUint64(b, fieldLastLogIndex, m.LastLogIndex)
	b = putUint64(b, fieldLastLogTerm, m.LastLogTerm)
	return b, nil
}

func (m *PreVoteRequest) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldCandidateID:
			m.CandidateID = asID(v)
		case fieldNextTerm:
			m.NextTerm = asUint64(v)
		case fieldLastLogIndex:
			m.LastLogIndex = asUint64(v)
		case fieldLastLogTerm:
			m.LastLogTerm = asUint64(v)
		}
		return nil
	})
}

type PreVoteResponse struct {
	Term       uint64
	WouldGrant bool
}

func (m *PreVoteResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putUint64(b, fieldTerm, m.Term)
	b = putBool(b, fieldWouldGrant, m.WouldGrant)
	return b, nil
}

func (m *PreVoteResponse) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldTerm:
			m.Term = asUint64(v)
		case fieldWouldGrant:
			m.WouldGrant = asBool(v)
		}
		return nil
	})
}

type AppendEntriesRequest struct {
	LeaderID     [16]byte
	Term         uint64
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []*Entry
	LeaderCommit uint64
}

func (m *AppendEntriesRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putID(b, fieldLeaderID, m.LeaderID)
	b = putUint64(b, fieldTerm, m.Term)
	b = putUint64(b, fieldPrevLogIndex, m.PrevLogIndex)
	b = putUint64(b, fieldPrevLogTerm, m.PrevLogTerm)
	b = putEntries(b, fieldEntries, m.Entries)
	b = putUint64(b, fieldLeaderCommit, m.LeaderCommit)
	return b, nil
}

func (m *AppendEntriesRequest) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldLeaderID:
			m.LeaderID = asID(v)
		case fieldTerm:
			m.Term = asUint64(v)
		case fieldPrevLogIndex:
			m.PrevLogIndex = asUint64(v)
		case fieldPrevLogTerm:
			m.PrevLogTerm = asUint64(v)
		case fieldEntries:
			e, err := unmarshalEntry(v)
			if err != nil {
				return err
			}
			m.Entries = append(m.Entries, e)
		case fieldLeaderCommit:
			m.LeaderCommit = asUint64(v)
		}
		return nil
	})
}

type AppendEntriesResponse struct {
	Term    uint64
	Success bool
}

func (m *AppendEntriesResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putUint64(b, fieldTerm, m.Term)
	b = putBool(b, fieldSuccess, m.Success)
	return b, nil
}

func (m *AppendEntriesResponse) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldTerm:
			m.Term = asUint64(v)
		case fieldSuccess:
			m.Success = asBool(v)
		}
		return nil
	})
}

type InstallSnapshotRequest struct {
	LeaderID          [16]byte
	Term              uint64
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
	Data              []byte
}

func (m *InstallSnapshotRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putID(b, fieldLeaderID, m.LeaderID)
	b = putUint64(b, fieldTerm, m.Term)
	b = putUint64(b, fieldLastIncludedIndex, m.LastIncludedIndex)
	b = putUint64(b, fieldLastIncludedTerm, m.LastIncludedTerm)
	b = putBytes(b, fieldData, m.Data)
	return b, nil
}

func (m *InstallSnapshotRequest) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldLeaderID:
			m.LeaderID = asID(v)
		case fieldTerm:
			m.Term = asUint64(v)
		case fieldLastIncludedIndex:
			m.LastIncludedIndex = asUint64(v)
		case fieldLastIncludedTerm:
			m.LastIncludedTerm = asUint64(v)
		case fieldData:
			m.Data = append([]byte{}, v...)
		}
		return nil
	})
}

type InstallSnapshotResponse struct {
	Term    uint64
	Success bool
}

func (m *InstallSnapshotResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putUint64(b, fieldTerm, m.Term)
	b = putBool(b, fieldSuccess, m.Success)
	return b, nil
}

func (m *InstallSnapshotResponse) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldTerm:
			m.Term = asUint64(v)
		case fieldSuccess:
			m.Success = asBool(v)
		}
		return nil
	})
}

type ResignRequest struct {
	SenderID [16]byte
}

func (m *ResignRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putID(b, fieldSenderID, m.SenderID)
	return b, nil
}

func (m *ResignRequest) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		if num == fieldSenderID {
			m.SenderID = asID(v)
		}
		return nil
	})
}

type ResignResponse struct {
	Term     uint64
	Resigned bool
}

func (m *ResignResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putUint64(b, fieldTerm, m.Term)
	b = putBool(b, fieldResigned, m.Resigned)
	return b, nil
}

func (m *ResignResponse) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldTerm:
			m.Term = asUint64(v)
		case fieldResigned:
			m.Resigned = asBool(v)
		}
		return nil
	})
}

type MetadataRequest struct {
	SenderID [16]byte
}

func (m *MetadataRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putID(b, fieldSenderID, m.SenderID)
	return b, nil
}

func (m *MetadataRequest) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		if num == fieldSenderID {
			m.SenderID = asID(v)
		}
		return nil
	})
}

type MetadataResponse struct {
	Metadata map[string]string
}

func (m *MetadataResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	for k, v := range m.Metadata {
		var entry []byte
		entry = putString(entry, metaFieldKey, k)
		entry = putString(entry, metaFieldVal, v)
		b = putEmbedded(b, fieldMetadataEntry, entry)
	}
	return b, nil
}

func (m *MetadataResponse) UnmarshalBinary(data []byte) error {
	m.Metadata = map[string]string{}
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		if num != fieldMetadataEntry {
			return nil
		}
		var key, val string
		err := walkFields(v, func(n protowire.Number, _ protowire.Type, fv []byte) error {
			switch n {
			case metaFieldKey:
				key = string(fv)
			case metaFieldVal:
				val = string(fv)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.Metadata[key] = val
		return nil
	})
}

type CustomRequest struct {
	SenderID          [16]byte
	MessageID         string
	Mode              uint64
	RespectLeadership bool
	Name              string
	ContentType       string
	Payload           []byte
}

func (m *CustomRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putID(b, fieldSenderID, m.SenderID)
	b = putString(b, fieldMessageID, m.MessageID)
	b = putUint64(b, fieldMode, m.Mode)
	b = putBool(b, fieldRespectLeadership, m.RespectLeadership)
	b = putString(b, fieldName, m.Name)
	b = putString(b, fieldContentType, m.ContentType)
	b = putBytes(b, fieldPayload, m.Payload)
	return b, nil
}

func (m *CustomRequest) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldSenderID:
			m.SenderID = asID(v)
		case fieldMessageID:
			m.MessageID = string(v)
		case fieldMode:
			m.Mode = asUint64(v)
		case fieldRespectLeadership:
			m.RespectLeadership = asBool(v)
		case fieldName:
			m.Name = string(v)
		case fieldContentType:
			m.ContentType = string(v)
		case fieldPayload:
			m.Payload = append([]byte{}, v...)
		}
		return nil
	})
}

type CustomResponse struct {
	ContentType string
	Payload     []byte
}

func (m *CustomResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	b = putString(b, fieldContentType, m.ContentType)
	b = putBytes(b, fieldPayload, m.Payload)
	return b, nil
}

func (m *CustomResponse) UnmarshalBinary(data []byte) error {
	return walkFields(data, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case fieldContentType:
			m.ContentType = string(v)
		case fieldPayload:
			m.Payload = append([]byte{}, v...)
		}
		return nil
	})
}
