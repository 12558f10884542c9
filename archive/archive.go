// Package archive stores verified responses of real-world jobs.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
)

var ErrNotFound = leveldb.ErrNotFound

const keyPrefix = "response/"

// Record is the stored form of a verified response.
type Record struct {
	Hash             string
	Worker           string
	UID              uint32
	Circuit          string
	Type             string
	Proof            []byte
	PublicSignals    []byte
	ProofSize        uint32
	ResponseTime     int64
	VerificationTime int64
	Stored           int64
}

type Archive struct {
	db *leveldb.DB
}

func Open(dbPath string) (*Archive, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", dbPath, err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Save stores a response under its job hash. Only responses flagged for persistence that verified are kept.
func (a *Archive) Save(ctx context.Context, resp *shared.MinerResponse) error {
	if !resp.Persist || !resp.Verified() {
		return nil
	}
	hash := resp.OriginHash
	if hash == "" {
		hash = resp.GuardHash
	}
	if hash == "" {
		return errors.New("response has no job hash")
	}
	record := Record{
		Hash:             hash,
		Worker:           resp.Worker.Identity,
		UID:              uint32(resp.Worker.UID),
		Type:             resp.Type.String(),
		Proof:            resp.Artifact,
		PublicSignals:    resp.PublicSignals,
		ProofSize:        uint32(resp.ProofSize),
		ResponseTime:     int64(resp.ResponseTime),
		VerificationTime: int64(resp.VerificationTime),
		Stored:           time.Now().Unix(),
	}
	if resp.Circuit != nil {
		record.Circuit = resp.Circuit.ID
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &record); err != nil {
		return fmt.Errorf("serializing response: %w", err)
	}
	if err := a.db.Put([]byte(keyPrefix+hash), buf.Bytes(), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing response in DB: %w", err)
	}
	logging.FromContext(ctx).Debug("archived response", zap.String("hash", hash), zap.String("worker", record.Worker))
	return nil
}

func (a *Archive) Get(hash string) (*Record, error) {
	data, err := a.db.Get([]byte(keyPrefix+hash), nil)
	if err != nil {
		return nil, fmt.Errorf("get response %s from DB: %w", hash, err)
	}
	record := &Record{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), record); err != nil {
		return nil, fmt.Errorf("failed to deserialize: %w", err)
	}
	return record, nil
}

func (a *Archive) Count() (int, error) {
	iter := a.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}
