package rpcserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poskernel/core/internal/kernel"
	"github.com/poskernel/core/internal/rpcserver"
)

// rpcRequest mirrors gorilla/rpc's json2 wire format, which requires
// params to be a single-element array wrapping the args object (not a
// bare object).
type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	ID     string        `json:"id"`
}

type rpcError struct {
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     string          `json:"id"`
}

func call(t *testing.T, srv *httptest.Server, method string, params interface{}, out interface{}) *rpcError {
	t.Helper()
	body, err := json.Marshal(rpcRequest{Method: method, Params: []interface{}{params}, ID: "1"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil && len(rpcResp.Result) > 0 {
		require.NoError(t, json.Unmarshal(rpcResp.Result, out))
	}
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	k, err := kernel.Open(root, "T1", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return httptest.NewServer(rpcserver.NewHandler(k))
}

func TestServiceDrivesSimpleSaleOverJSONRPC(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	var createReply rpcserver.CreateSessionReply
	rpcErr := call(t, srv, "Service.CreateSession", &rpcserver.CreateSessionArgs{OperatorID: "op1"}, &createReply)
	require.Nil(t, rpcErr)
	require.NotEmpty(t, createReply.SessionID)

	var beginReply rpcserver.BeginTxReply
	rpcErr = call(t, srv, "Service.BeginTx", &rpcserver.BeginTxArgs{
		SessionID: createReply.SessionID, Currency: "SGD", DecimalPlaces: 2,
	}, &beginReply)
	require.Nil(t, rpcErr)
	require.NotEmpty(t, beginReply.TransactionID)

	var addReply rpcserver.TxOpReply
	rpcErr = call(t, srv, "Service.AddLine", &rpcserver.AddLineArgs{
		TxID:      beginReply.TransactionID,
		Product:   rpcserver.ProductArg{SKU: "KOPI001"},
		Quantity:  1,
		UnitPrice: rpcserver.MoneyArg{Currency: "SGD", DecimalPlaces: 2, MinorUnits: 140},
	}, &addReply)
	require.Nil(t, rpcErr)
	require.Equal(t, int64(140), addReply.Tx.Total.MinorUnits)

	var tenderReply rpcserver.TxOpReply
	rpcErr = call(t, srv, "Service.AddTender", &rpcserver.AddTenderArgs{
		TxID:   beginReply.TransactionID,
		Kind:   "cash",
		Amount: rpcserver.MoneyArg{Currency: "SGD", DecimalPlaces: 2, MinorUnits: 200},
	}, &tenderReply)
	require.Nil(t, rpcErr)
	require.Equal(t, "Completed", tenderReply.Tx.State)
	require.True(t, tenderReply.Tx.HasChangeDue)
	require.Equal(t, int64(60), tenderReply.Tx.ChangeDue.MinorUnits)
}

func TestServiceSurfacesKernelErrorCodeInMessage(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	var reply rpcserver.BeginTxReply
	rpcErr := call(t, srv, "Service.BeginTx", &rpcserver.BeginTxArgs{
		SessionID: "nonexistent", Currency: "SGD", DecimalPlaces: 2,
	}, &reply)
	require.NotNil(t, rpcErr)
	require.Contains(t, rpcErr.Message, "SessionNotFound")
}

func TestServiceVoidCascadeOverJSONRPC(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	var createReply rpcserver.CreateSessionReply
	require.Nil(t, call(t, srv, "Service.CreateSession", &rpcserver.CreateSessionArgs{OperatorID: "op1"}, &createReply))

	var beginReply rpcserver.BeginTxReply
	require.Nil(t, call(t, srv, "Service.BeginTx", &rpcserver.BeginTxArgs{
		SessionID: createReply.SessionID, Currency: "SGD", DecimalPlaces: 2,
	}, &beginReply))

	var addReply rpcserver.TxOpReply
	require.Nil(t, call(t, srv, "Service.AddLine", &rpcserver.AddLineArgs{
		TxID:      beginReply.TransactionID,
		Product:   rpcserver.ProductArg{SKU: "TSET001"},
		Quantity:  1,
		UnitPrice: rpcserver.MoneyArg{Currency: "SGD", DecimalPlaces: 2, MinorUnits: 740},
	}, &addReply))
	parentID := addReply.Tx.Lines[0].LineItemID

	var childReply rpcserver.TxOpReply
	require.Nil(t, call(t, srv, "Service.AddChildLine", &rpcserver.AddChildLineArgs{
		TxID: beginReply.TransactionID, ParentID: parentID,
		Product: rpcserver.ProductArg{SKU: "TEH002"}, Quantity: 1,
		UnitPrice: rpcserver.MoneyArg{Currency: "SGD", DecimalPlaces: 2, MinorUnits: 0},
		ItemType:  "Modification",
	}, &childReply))

	var voidReply rpcserver.VoidLineReply
	require.Nil(t, call(t, srv, "Service.VoidLine", &rpcserver.VoidLineArgs{
		TxID: beginReply.TransactionID, LineItemID: parentID,
	}, &voidReply))
	require.ElementsMatch(t, []string{parentID, childReply.Tx.Lines[1].LineItemID}, voidReply.VoidedLineItemIDs)
	require.True(t, voidReply.Tx.Total.MinorUnits == 0)
}
