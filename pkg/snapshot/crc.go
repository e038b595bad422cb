package snapshot

import (
	"encoding/json"
	"errors"

	"delta/pkg/actions"
	"delta/pkg/common"
	"delta/pkg/iface"
)

var ErrNoChecksum = errors.New("delta: no checksum record")

// CRCInfo is the cached table state carried in a version's .crc file.
type CRCInfo struct {
	Version           int64                     `json:"version"`
	Metadata          *actions.Metadata         `json:"metadata"`
	Protocol          *actions.Protocol         `json:"protocol"`
	TableSizeBytes    int64                     `json:"tableSizeBytes"`
	NumFiles          int64                     `json:"numFiles"`
	TxnID             *string                   `json:"txnId,omitempty"`
	DomainMetadata    []*actions.DomainMetadata `json:"domainMetadata,omitempty"`
	FileSizeHistogram *common.FileSizeHistogram `json:"fileSizeHistogram,omitempty"`
}

// rawReader is the optional engine upgrade used for checksum files, which are
// plain JSON objects rather than action lines.
type rawReader interface {
	ReadFile(path string) ([]byte, error)
}

type rawWriter interface {
	WriteFile(path string, content []byte) error
}

// ReadCRC loads the checksum record for a version. ErrNoChecksum when the
// engine cannot read raw files or the record is absent.
func ReadCRC(eng iface.Engine, logPath string, version int64) (*CRCInfo, error) {
	reader, ok := eng.(rawReader)
	if !ok {
		return nil, ErrNoChecksum
	}
	raw, err := reader.ReadFile(common.ChecksumFile(logPath, version))
	if err != nil {
		return nil, ErrNoChecksum
	}
	crc := new(CRCInfo)
	if err := json.Unmarshal(raw, crc); err != nil {
		return nil, err
	}
	if crc.Version != version {
		return nil, ErrNoChecksum
	}
	return crc, nil
}

// WriteCRC persists a checksum record. The checksum hooks use this once the
// engine supports raw writes.
func WriteCRC(eng iface.Engine, logPath string, crc *CRCInfo) error {
	writer, ok := eng.(rawWriter)
	if !ok {
		return ErrNoChecksum
	}
	raw, err := json.Marshal(crc)
	if err != nil {
		return err
	}
	return writer.WriteFile(common.ChecksumFile(logPath, crc.Version), raw)
}
