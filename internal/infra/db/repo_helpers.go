package db

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var errDBUnavailable = errors.New("db unavailable")

func hashBytes(h common.Hash) []byte {
	if h == (common.Hash{}) {
		return nil
	}
	return h.Bytes()
}

func bytesHash(b []byte) common.Hash {
	if len(b) == 0 {
		return common.Hash{}
	}
	return common.BytesToHash(b)
}
