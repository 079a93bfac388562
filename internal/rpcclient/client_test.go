package rpcclient

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/btcflow/pkg/types"
)

type rpcCall struct {
	Path   string
	Method string
	Params []json.RawMessage
}

type handlerFunc func(params []json.RawMessage) (interface{}, *btcjson.RPCError)

// fakeNode is a minimal JSON-RPC server speaking the Bitcoin Core envelope.
type fakeNode struct {
	t        *testing.T
	mu       sync.Mutex
	calls    []rpcCall
	handlers map[string]handlerFunc
	srv      *httptest.Server
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	f := &fakeNode{t: t, handlers: make(map[string]handlerFunc)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeNode) on(method string, h handlerFunc) {
	f.mu.Lock()
	f.handlers[method] = h
	f.mu.Unlock()
}

func (f *fakeNode) result(method string, v interface{}) {
	f.on(method, func([]json.RawMessage) (interface{}, *btcjson.RPCError) { return v, nil })
}

func (f *fakeNode) fail(method string, code btcjson.RPCErrorCode, msg string) {
	f.on(method, func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
		return nil, &btcjson.RPCError{Code: code, Message: msg}
	})
}

func (f *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		ID     json.RawMessage   `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, rpcCall{Path: r.URL.Path, Method: req.Method, Params: req.Params})
	h, ok := f.handlers[req.Method]
	f.mu.Unlock()

	var (
		result interface{}
		rpcErr *btcjson.RPCError
	)
	if ok {
		result, rpcErr = h(req.Params)
	} else {
		rpcErr = &btcjson.RPCError{Code: -32601, Message: "Method not found"}
	}

	w.Header().Set("Content-Type", "application/json")
	if rpcErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result": result,
		"error":  rpcErr,
		"id":     req.ID,
	})
}

func (f *fakeNode) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

func (f *fakeNode) lastCall(method string) rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i]
		}
	}
	f.t.Fatalf("no %s call recorded", method)
	return rpcCall{}
}

func (f *fakeNode) client(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{
		Host:   strings.TrimPrefix(f.srv.URL, "http://"),
		User:   "user",
		Pass:   "pass",
		Wallet: "testwallet",
		Params: &chaincfg.RegressionNetParams,
	})
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

func TestLoadOrCreateWallet_AlreadyLoadedIsIdempotent(t *testing.T) {
	node := newFakeNode(t)
	node.fail("loadwallet", -35, "Wallet file verification failed. Wallet \"testwallet\" is already loaded.")
	c := node.client(t)

	for i := 0; i < 2; i++ {
		status, err := c.LoadOrCreateWallet()
		require.NoError(t, err)
		assert.Equal(t, WalletAlreadyLoaded, status)
	}
	assert.Equal(t, []string{"loadwallet", "loadwallet"}, node.methods())
}

func TestLoadOrCreateWallet_Loaded(t *testing.T) {
	node := newFakeNode(t)
	node.result("loadwallet", map[string]string{"name": "testwallet", "warning": ""})
	c := node.client(t)

	status, err := c.LoadOrCreateWallet()
	require.NoError(t, err)
	assert.Equal(t, WalletLoaded, status)

	var name string
	require.NoError(t, json.Unmarshal(node.lastCall("loadwallet").Params[0], &name))
	assert.Equal(t, "testwallet", name)
}

func TestLoadOrCreateWallet_CreatesWhenMissing(t *testing.T) {
	node := newFakeNode(t)
	loads := 0
	node.on("loadwallet", func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
		loads++
		if loads == 1 {
			return nil, &btcjson.RPCError{Code: -18, Message: "Path does not exist"}
		}
		return nil, &btcjson.RPCError{Code: -35, Message: "already loaded"}
	})
	node.result("createwallet", map[string]string{"name": "testwallet", "warning": ""})
	c := node.client(t)

	status, err := c.LoadOrCreateWallet()
	require.NoError(t, err)
	assert.Equal(t, WalletCreated, status)
	assert.Equal(t, []string{"loadwallet", "createwallet", "loadwallet"}, node.methods())
}

func TestLoadOrCreateWallet_OtherErrorIsWalletState(t *testing.T) {
	node := newFakeNode(t)
	// Message mentions "already loaded" but the code does not; codes decide.
	node.fail("loadwallet", -4, "Wallet already loaded? database corrupt")
	c := node.client(t)

	_, err := c.LoadOrCreateWallet()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWalletState)
	assert.NotContains(t, node.methods(), "createwallet")
}

func TestLoadOrCreateWallet_CreateFails(t *testing.T) {
	node := newFakeNode(t)
	node.fail("loadwallet", -18, "not found")
	node.fail("createwallet", -4, "Wallet file verification failed")
	c := node.client(t)

	_, err := c.LoadOrCreateWallet()
	assert.ErrorIs(t, err, ErrWalletState)
}

func TestWalletCallsUseWalletPath(t *testing.T) {
	node := newFakeNode(t)
	node.result("getnewaddress", "bcrt1qexample")
	node.result("getblockcount", 101)
	c := node.client(t)

	addr, err := c.NewAddress(types.P2SHSegwit)
	require.NoError(t, err)
	assert.Equal(t, "bcrt1qexample", addr)

	call := node.lastCall("getnewaddress")
	assert.Equal(t, "/wallet/testwallet", call.Path)
	require.Len(t, call.Params, 2)
	assert.JSONEq(t, `""`, string(call.Params[0]))
	assert.JSONEq(t, `"p2sh-segwit"`, string(call.Params[1]))

	_, err = c.NewAddress(types.AddressType("bech32m"))
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	node := newFakeNode(t)
	node.result("getblockcount", 150)
	node.result("getblockchaininfo", map[string]interface{}{"chain": "regtest", "blocks": 150})
	c := node.client(t)

	height, err := c.Ping()
	require.NoError(t, err)
	assert.Equal(t, int64(150), height)
	assert.Equal(t, "/", node.lastCall("getblockchaininfo").Path)
}

func TestPing_WrongNetwork(t *testing.T) {
	node := newFakeNode(t)
	node.result("getblockcount", 800_000)
	node.result("getblockchaininfo", map[string]interface{}{"chain": "main", "blocks": 800_000})
	c := node.client(t)

	_, err := c.Ping()
	assert.ErrorIs(t, err, ErrWrongNetwork)
}

func TestListUnspent_ConvertsAmounts(t *testing.T) {
	node := newFakeNode(t)
	node.result("listunspent", []map[string]interface{}{
		{"txid": "aa", "vout": 0, "address": "addrA", "amount": 0.5, "confirmations": 1, "spendable": true},
		{"txid": "bb", "vout": 3, "address": "addrB", "amount": 0.19999, "confirmations": 0, "spendable": false},
	})
	c := node.client(t)

	utxos, err := c.ListUnspent()
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	assert.Equal(t, types.UTXO{
		Outpoint:  types.Outpoint{TxID: "aa", Vout: 0},
		Address:   "addrA",
		Amount:    50_000_000,
		Spendable: true,

		Confirmations: 1,
	}, utxos[0])
	assert.Equal(t, btcutil.Amount(19_999_000), utxos[1].Amount)
	assert.False(t, utxos[1].Spendable)
}

func TestCreateRawTransaction_ExactAmounts(t *testing.T) {
	node := newFakeNode(t)
	node.result("createrawtransaction", "0200000001")
	c := node.client(t)

	hex, err := c.CreateRawTransaction(
		[]types.Outpoint{{TxID: "aa", Vout: 1}},
		map[string]btcutil.Amount{"dest": 30_000_000, "change": 19_999_000},
	)
	require.NoError(t, err)
	assert.Equal(t, "0200000001", hex)

	call := node.lastCall("createrawtransaction")
	require.Len(t, call.Params, 2)
	assert.JSONEq(t, `[{"txid":"aa","vout":1}]`, string(call.Params[0]))
	// Amounts go out as fixed 8-decimal numbers, never float artifacts.
	assert.Contains(t, string(call.Params[1]), `"change":0.19999000`)
	assert.Contains(t, string(call.Params[1]), `"dest":0.30000000`)
}

func TestSignRawTransactionWithWallet(t *testing.T) {
	node := newFakeNode(t)
	node.result("signrawtransactionwithwallet", map[string]interface{}{
		"hex":      "02000000signed",
		"complete": false,
		"errors":   []map[string]interface{}{{"txid": "aa", "vout": 1, "error": "Unable to sign input"}},
	})
	c := node.client(t)

	signed, err := c.SignRawTransactionWithWallet("0200000001")
	require.NoError(t, err)
	assert.Equal(t, "02000000signed", signed.Hex)
	assert.False(t, signed.Complete)
	assert.Equal(t, "/wallet/testwallet", node.lastCall("signrawtransactionwithwallet").Path)
}

func TestSendRawTransaction_RejectedKeepsRPCError(t *testing.T) {
	node := newFakeNode(t)
	node.fail("sendrawtransaction", -26, "min relay fee not met")
	c := node.client(t)

	_, err := c.SendRawTransaction("0200")
	require.Error(t, err)
	var rpcErr *btcjson.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, btcjson.RPCErrorCode(-26), rpcErr.Code)
	assert.NotErrorIs(t, err, ErrConnection)
}

func TestDecodeRawTransaction_Converts(t *testing.T) {
	node := newFakeNode(t)
	node.result("decoderawtransaction", map[string]interface{}{
		"txid": "tx1",
		"hash": "wtx1",
		"vin": []map[string]interface{}{{
			"txid":        "aa",
			"vout":        1,
			"scriptSig":   map[string]string{"asm": "0014abcd", "hex": "160014abcd"},
			"txinwitness": []string{"3044", "02ab"},
			"sequence":    4294967293,
		}},
		"vout": []map[string]interface{}{
			{"value": 0.3, "n": 0, "scriptPubKey": map[string]interface{}{
				"asm": "OP_HASH160 ab OP_EQUAL", "hex": "a914ab87", "type": "scripthash", "address": "2Ndest",
			}},
			{"value": 0.19999, "n": 1, "scriptPubKey": map[string]interface{}{
				"asm": "OP_DUP", "hex": "76a9", "type": "pubkeyhash", "addresses": []string{"mchange"},
			}},
		},
	})
	c := node.client(t)

	tx, err := c.DecodeRawTransaction("0200")
	require.NoError(t, err)
	assert.Equal(t, "tx1", tx.TxID)
	assert.Equal(t, "wtx1", tx.Hash)
	require.Len(t, tx.Inputs, 1)
	assert.Equal(t, types.Outpoint{TxID: "aa", Vout: 1}, tx.Inputs[0].Outpoint)
	assert.True(t, tx.Inputs[0].HasUnlockingData())
	require.Len(t, tx.Outputs, 2)
	assert.Equal(t, "2Ndest", tx.Outputs[0].Address)
	assert.Equal(t, btcutil.Amount(30_000_000), tx.Outputs[0].Value)
	assert.Equal(t, "mchange", tx.Outputs[1].Address)
}

func TestGenerateToAddress(t *testing.T) {
	node := newFakeNode(t)
	node.result("generatetoaddress", []string{"blockhash1"})
	c := node.client(t)

	hashes, err := c.GenerateToAddress(1, "mthrowaway")
	require.NoError(t, err)
	assert.Equal(t, []string{"blockhash1"}, hashes)

	call := node.lastCall("generatetoaddress")
	assert.Equal(t, "/", call.Path)
	assert.JSONEq(t, `1`, string(call.Params[0]))
	assert.JSONEq(t, `"mthrowaway"`, string(call.Params[1]))
}

func TestGetBalance(t *testing.T) {
	node := newFakeNode(t)
	node.result("getbalance", 49.9999)
	c := node.client(t)

	bal, err := c.GetBalance()
	require.NoError(t, err)
	assert.Equal(t, btcutil.Amount(4_999_990_000), bal)
}

func TestWrap(t *testing.T) {
	netErr := &url.Error{Op: "Post", URL: "http://127.0.0.1:1", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}
	assert.ErrorIs(t, wrap("getblockcount", netErr), ErrConnection)

	// btcd flattens the transport error into a plain string after retrying.
	flat := errors.New("invalid http POST response (nil), method: sendrawtransaction, id: 1, last error=connection refused")
	assert.ErrorIs(t, wrap("sendrawtransaction", flat), ErrConnection)

	rpcErr := &btcjson.RPCError{Code: -5, Message: "Invalid address"}
	err := wrap("getnewaddress", rpcErr)
	assert.NotErrorIs(t, err, ErrConnection)
	var got *btcjson.RPCError
	assert.True(t, errors.As(err, &got))
}

func TestUnreachableNodeFailsFast(t *testing.T) {
	node := newFakeNode(t)
	c := node.client(t)
	node.srv.Close()

	start := time.Now()
	_, err := c.SendRawTransaction("00")
	assert.ErrorIs(t, err, ErrConnection)

	_, err = c.Ping()
	assert.ErrorIs(t, err, ErrConnection)

	_, err = c.ListUnspent()
	assert.ErrorIs(t, err, ErrConnection)

	_, err = c.LoadOrCreateWallet()
	assert.ErrorIs(t, err, ErrConnection)

	assert.Less(t, time.Since(start), 2*time.Second, "requests must not enter the client's retry loop")
	assert.Empty(t, node.methods())
}

func TestHTTPErrorPageIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New(Config{Host: strings.TrimPrefix(srv.URL, "http://"), User: "u", Pass: "wrong", Wallet: "w"})
	require.NoError(t, err)
	defer c.Shutdown()

	_, err = c.GetBalance()
	assert.ErrorIs(t, err, ErrConnection)
	var rpcErr *btcjson.RPCError
	assert.False(t, errors.As(err, &rpcErr))
}

func TestClassifyLoad(t *testing.T) {
	assert.Equal(t, loadOK, classifyLoad(nil))
	assert.Equal(t, loadNotFound, classifyLoad(&btcjson.RPCError{Code: -18}))
	assert.Equal(t, loadAlreadyLoaded, classifyLoad(wrap("loadwallet", &btcjson.RPCError{Code: -35})))
	assert.Equal(t, loadFailed, classifyLoad(&btcjson.RPCError{Code: -4, Message: "already loaded"}))
	assert.Equal(t, loadFailed, classifyLoad(errors.New("already loaded")))
}

func TestBtcParam(t *testing.T) {
	assert.Equal(t, json.Number("0.00001000"), btcParam(1000))
	assert.Equal(t, json.Number("0.50000000"), btcParam(50_000_000))
	assert.Equal(t, json.Number("49.99999000"), btcParam(4_999_999_000))
}
