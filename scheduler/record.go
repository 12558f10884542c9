package scheduler

import (
	"bytes"

	"github.com/spacemeshos/go-scale"
)

// MaintenanceKey is the commitment key under which a worker records its last maintenance.
const MaintenanceKey = "last-maintenance"

// MaintenanceRecord is committed to the ledger when a worker performs maintenance.
type MaintenanceRecord struct {
	Epoch uint64
	Block uint64
}

func (r *MaintenanceRecord) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeCompact64(enc, r.Epoch)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, r.Block)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *MaintenanceRecord) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		r.Epoch = field
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		r.Block = field
	}
	return total, nil
}

func (r *MaintenanceRecord) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := r.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeMaintenanceRecord(data []byte) (*MaintenanceRecord, error) {
	var r MaintenanceRecord
	if _, err := r.DecodeScale(scale.NewDecoder(bytes.NewReader(data))); err != nil {
		return nil, err
	}
	return &r, nil
}
