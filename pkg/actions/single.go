package actions

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
)

var ErrMalformedAction = errors.New("delta: action record must have exactly one arm set")

// Projection selects which arms of the union a reader materialises.
type Projection uint8

const (
	ProjectTxn Projection = 1 << iota
	ProjectAdd
	ProjectRemove
	ProjectMetadata
	ProjectProtocol
	ProjectCommitInfo
	ProjectDomainMetadata

	ProjectAll = ProjectTxn | ProjectAdd | ProjectRemove | ProjectMetadata |
		ProjectProtocol | ProjectCommitInfo | ProjectDomainMetadata

	// ConflictProjection is the narrow projection the conflict resolver reads
	// winning commits with. Data actions of winners are deliberately absent.
	ConflictProjection = ProjectTxn | ProjectMetadata | ProjectProtocol |
		ProjectCommitInfo | ProjectDomainMetadata
)

// SingleAction is the tagged union written one-per-line into commit files.
// Exactly one arm is non-nil per record.
type SingleAction struct {
	Txn            *Txn            `json:"txn,omitempty"`
	Add            *Add            `json:"add,omitempty"`
	Remove         *Remove         `json:"remove,omitempty"`
	Metadata       *Metadata       `json:"metaData,omitempty"`
	Protocol       *Protocol       `json:"protocol,omitempty"`
	CommitInfo     *CommitInfo     `json:"commitInfo,omitempty"`
	DomainMetadata *DomainMetadata `json:"domainMetadata,omitempty"`
}

func WrapTxn(t *Txn) *SingleAction                        { return &SingleAction{Txn: t} }
func WrapAdd(a *Add) *SingleAction                        { return &SingleAction{Add: a} }
func WrapRemove(r *Remove) *SingleAction                  { return &SingleAction{Remove: r} }
func WrapMetadata(m *Metadata) *SingleAction              { return &SingleAction{Metadata: m} }
func WrapProtocol(p *Protocol) *SingleAction              { return &SingleAction{Protocol: p} }
func WrapCommitInfo(c *CommitInfo) *SingleAction          { return &SingleAction{CommitInfo: c} }
func WrapDomainMetadata(d *DomainMetadata) *SingleAction  { return &SingleAction{DomainMetadata: d} }

// Arms returns how many arms are set.
func (a *SingleAction) Arms() int {
	n := 0
	if a.Txn != nil {
		n++
	}
	if a.Add != nil {
		n++
	}
	if a.Remove != nil {
		n++
	}
	if a.Metadata != nil {
		n++
	}
	if a.Protocol != nil {
		n++
	}
	if a.CommitInfo != nil {
		n++
	}
	if a.DomainMetadata != nil {
		n++
	}
	return n
}

func (a *SingleAction) Validate() error {
	if a.Arms() != 1 {
		return ErrMalformedAction
	}
	return nil
}

// Project nils out the arms not selected. Returns nil when nothing survives.
func (a *SingleAction) Project(p Projection) *SingleAction {
	out := &SingleAction{}
	if p&ProjectTxn != 0 {
		out.Txn = a.Txn
	}
	if p&ProjectAdd != 0 {
		out.Add = a.Add
	}
	if p&ProjectRemove != 0 {
		out.Remove = a.Remove
	}
	if p&ProjectMetadata != 0 {
		out.Metadata = a.Metadata
	}
	if p&ProjectProtocol != 0 {
		out.Protocol = a.Protocol
	}
	if p&ProjectCommitInfo != 0 {
		out.CommitInfo = a.CommitInfo
	}
	if p&ProjectDomainMetadata != 0 {
		out.DomainMetadata = a.DomainMetadata
	}
	if out.Arms() == 0 {
		return nil
	}
	return out
}

// EncodeLine marshals one action as a single JSON line.
func (a *SingleAction) EncodeLine() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(a)
}

// DecodeLine parses one JSON line into an action.
func DecodeLine(line []byte) (*SingleAction, error) {
	action := new(SingleAction)
	if err := json.Unmarshal(line, action); err != nil {
		return nil, err
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	return action, nil
}

// DecodeLines reads line-delimited actions from r until EOF.
func DecodeLines(r io.Reader) ([]*SingleAction, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var result []*SingleAction
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		action, err := DecodeLine(line)
		if err != nil {
			return nil, err
		}
		result = append(result, action)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
