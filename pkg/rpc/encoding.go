package rpc

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/accounts"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/voting"
)

// ParsedAccount is the jsonParsed rendering of a poll account.
type ParsedAccount struct {
	Program string       `json:"program"`
	Parsed  *voting.Poll `json:"parsed"`
	Space   uint64       `json:"space"`
}

// encodeAccountData renders account data for getAccountInfo. jsonParsed only
// applies to accounts the voting program owns and that decode as a poll;
// anything else falls back to base64, as does an unknown encoding.
func encodeAccountData(acc *accounts.Account, cfg *AccountInfoConfig, programID types.Pubkey) (interface{}, error) {
	if cfg.Encoding == EncodingJSONParsed && cfg.DataSlice == nil && acc.Owner == programID {
		if poll, err := voting.DecodePoll(acc.Data); err == nil {
			return ParsedAccount{Program: "voting", Parsed: poll, Space: uint64(len(acc.Data))}, nil
		}
	}

	data := applyDataSlice(acc.Data, cfg.DataSlice)
	switch cfg.Encoding {
	case EncodingBase58:
		return []string{base58.Encode(data), string(EncodingBase58)}, nil
	case EncodingBase64Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd compression failed: %w", err)
		}
		defer enc.Close()
		return []string{base64.StdEncoding.EncodeToString(enc.EncodeAll(data, nil)), string(EncodingBase64Zstd)}, nil
	default:
		return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}, nil
	}
}

// applyDataSlice clamps slice to data. An offset past the end yields nothing.
func applyDataSlice(data []byte, slice *DataSlice) []byte {
	if slice == nil {
		return data
	}
	if slice.Offset >= uint64(len(data)) {
		return []byte{}
	}
	end := slice.Offset + slice.Length
	if end > uint64(len(data)) || end < slice.Offset {
		end = uint64(len(data))
	}
	return data[slice.Offset:end]
}

// decodeWireTransaction decodes a submitted transaction. Base58 is the
// default, matching Solana clients.
func decodeWireTransaction(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase64:
		return base64.StdEncoding.DecodeString(encoded)
	case EncodingBase58, "":
		return base58.Decode(encoded)
	default:
		return nil, fmt.Errorf("unsupported transaction encoding %q", encoding)
	}
}

// encodeWireTransaction renders a recorded transaction as a
// [payload, encoding] pair. Base64 is the default.
func encodeWireTransaction(data []byte, encoding Encoding) []string {
	if encoding == EncodingBase58 {
		return []string{base58.Encode(data), string(EncodingBase58)}
	}
	return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}
}
