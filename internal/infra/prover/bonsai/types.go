package bonsai

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bonsaipay/internal/domain"
	"bonsaipay/internal/infra/ethabi"
)

type uploadResponse struct {
	URL  string `json:"url"`
	UUID string `json:"uuid"`
}

type createResponse struct {
	UUID string `json:"uuid"`
}

type sessionRequest struct {
	Image       string   `json:"img"`
	Input       string   `json:"input"`
	Assumptions []string `json:"assumptions"`
}

type snarkRequest struct {
	SessionID string `json:"session_id"`
}

type statusResponse struct {
	Status   string       `json:"status"`
	ErrorMsg string       `json:"error_msg,omitempty"`
	Output   *snarkOutput `json:"output,omitempty"`
}

type groth16 struct {
	A      [2]byteList    `json:"a"`
	B      [2][2]byteList `json:"b"`
	C      [2]byteList    `json:"c"`
	Public []byteList     `json:"public"`
}

type snarkOutput struct {
	Snark           groth16  `json:"snark"`
	PostStateDigest byteList `json:"post_state_digest"`
	Journal         byteList `json:"journal"`
}

func (o *snarkOutput) artifact() (domain.ProofArtifact, error) {
	if len(o.PostStateDigest) != common.HashLength {
		return domain.ProofArtifact{}, fmt.Errorf("post state digest is %d bytes", len(o.PostStateDigest))
	}
	var a, c [2]*big.Int
	var b [2][2]*big.Int
	for i := 0; i < 2; i++ {
		a[i] = o.Snark.A[i].int()
		c[i] = o.Snark.C[i].int()
		for j := 0; j < 2; j++ {
			b[i][j] = o.Snark.B[i][j].int()
		}
	}
	seal, err := ethabi.EncodeGroth16Seal(a, b, c)
	if err != nil {
		return domain.ProofArtifact{}, err
	}
	return domain.ProofArtifact{
		Journal:     []byte(o.Journal),
		StateDigest: common.BytesToHash(o.PostStateDigest),
		Seal:        seal,
	}, nil
}

// byteList decodes the service's byte encodings: a JSON array of numbers
// or a hex string.
type byteList []byte

func (b *byteList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return fmt.Errorf("byte string: %w", err)
		}
		*b = raw
		return nil
	}
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return errors.New("byte array value out of range")
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

func (b byteList) int() *big.Int {
	if len(b) > 32 {
		return nil
	}
	return new(big.Int).SetBytes(b)
}
