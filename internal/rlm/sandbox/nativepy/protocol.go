// Package nativepy is a Session backend that drives a Python subprocess
// over a JSON-RPC 2.0 wire protocol on stdin/stdout.
package nativepy

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Host to sandbox methods.
const (
	methodInitialize  = "initialize"
	methodExecute     = "execute"
	methodGetVariable = "get_variable"
)

// Sandbox to host bridge methods.
const (
	bridgeLLM      = "bridge:llm"
	bridgeRLM      = "bridge:rlm"
	bridgeBatchLLM = "bridge:batch_llm"
)

// request is a JSON-RPC 2.0 request or notification sent in either
// direction over the stdio pipe.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("nativepy: rpc error %d: %s", e.Code, e.Message)
}

func encodeRequest(id int64, method string, params any) ([]byte, error) {
	body, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id,omitempty"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return body, nil
}

func decodeResponse(line []byte) (*response, error) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// isBridgeCall reports whether a line from the subprocess is a host-bound
// bridge request rather than a response to our own request, using gjson for
// a cheap, allocation-light peek at the "method" field before committing to
// a full json.Unmarshal.
func isBridgeCall(line []byte) bool {
	method := gjson.GetBytes(line, "method")
	if !method.Exists() {
		return false
	}
	switch method.String() {
	case bridgeLLM, bridgeRLM, bridgeBatchLLM:
		return true
	default:
		return false
	}
}

func bridgeMethod(line []byte) string {
	return gjson.GetBytes(line, "method").String()
}

func bridgeID(line []byte) int64 {
	return gjson.GetBytes(line, "id").Int()
}

// encodeBridgeResponse builds a JSON-RPC response to a bridge call using
// sjson, so the nativepy package never hand-assembles JSON-RPC envelopes in
// two different ways.
func encodeBridgeResponse(id int64, result any, callErr error) ([]byte, error) {
	doc := `{"jsonrpc":"2.0"}`
	var err error
	doc, err = sjson.Set(doc, "id", id)
	if err != nil {
		return nil, err
	}
	if callErr != nil {
		doc, err = sjson.Set(doc, "error.code", -32000)
		if err != nil {
			return nil, err
		}
		doc, err = sjson.Set(doc, "error.message", callErr.Error())
		if err != nil {
			return nil, err
		}
		return []byte(doc), nil
	}
	doc, err = sjson.Set(doc, "result", result)
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}
