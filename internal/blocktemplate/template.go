// Package blocktemplate owns the single template+job abstraction of spec
// §4.3 and §3: target, difficulty, merkle root, header skeleton, cached
// mining.notify parameter vector, header+block serializer, and the
// duplicate-submit guard. Grounded on the teacher's
// internal/stratum/v2/template_provider.go and litecoin_rpc.go response
// shapes, generalized to the Equihash/VerusHash header layout of spec §6.2.
package blocktemplate

// TemplateTx is one transaction entry of a daemon block template, spec §3.
type TemplateTx struct {
	Data string `json:"data"`
	Hash string `json:"hash"`
}

// CoinbaseTxn is the optional PBaaS-style pre-built coinbase, spec §3.
type CoinbaseTxn struct {
	Data string `json:"data"`
}

// Template is the opaque daemon blob of spec §3 ("RpcData"). It is treated
// as immutable once received: the Job Manager never mutates a Template
// after binding it to a Job.
type Template struct {
	Height               int64         `json:"height"`
	PreviousBlockHash    string        `json:"previousblockhash"`
	Transactions         []TemplateTx  `json:"transactions"`
	CurTime              int64         `json:"curtime"`
	Bits                 string        `json:"bits"`
	Target               string        `json:"target"`
	Version              uint32        `json:"version"`
	Solution             string        `json:"solution,omitempty"`
	CoinbaseTxn          *CoinbaseTxn  `json:"coinbasetxn,omitempty"`
	FinalSaplingRootHash string        `json:"finalsaplingroothash,omitempty"`
	MergedBits           string        `json:"merged_bits,omitempty"`
	MergeMineBits        string        `json:"mergeminebits,omitempty"`
	CoinbaseValue        int64         `json:"coinbasevalue"`
}

// mergedBitsHex returns whichever of the two merged-bits aliases is present.
func (t *Template) mergedBitsHex() string {
	if t.MergedBits != "" {
		return t.MergedBits
	}
	return t.MergeMineBits
}
