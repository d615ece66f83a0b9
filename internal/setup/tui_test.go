package setup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokenswallet/config"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
)

const alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"

func TestAnswers_ConfigTmp(t *testing.T) {
	a := DefaultAnswers()
	a.APIURL = config.DefaultAPIURL(a.Mode)
	a.SS58Prefix = "42"
	a.Account = " " + alice + " "

	raw := a.ConfigTmp()
	assert.Empty(t, raw.APIURL, "default backend url is not written")
	assert.Equal(t, alice, raw.Account)
	assert.Equal(t, "42", raw.SS58PrefixStr)
	require.NotNil(t, raw.RemoteSettings)
	assert.True(t, *raw.RemoteSettings)

	cfg, err := raw.Convert()
	require.NoError(t, err)
	assert.Equal(t, "OPAL", cfg.Token.Symbol)
	assert.Equal(t, 12, cfg.Token.Decimals)
	assert.Equal(t, domain.ChainSubstrate, cfg.Token.Chain)
	require.NotNil(t, cfg.Token.SS58Prefix)
	assert.Equal(t, uint16(42), *cfg.Token.SS58Prefix)
}

func TestAnswers_EVMDropsSS58Prefix(t *testing.T) {
	a := Answers{
		Mode:       config.ModeDevelopment,
		APIURL:     "http://wallet.local:9000",
		Symbol:     "USDX",
		Chain:      string(domain.ChainEVM),
		RPCURL:     "wss://eth.example",
		Decimals:   "18",
		SS58Prefix: "42",
	}

	raw := a.ConfigTmp()
	assert.Empty(t, raw.SS58PrefixStr)
	assert.Equal(t, "http://wallet.local:9000", raw.APIURL)

	path := filepath.Join(t.TempDir(), "wallet.yaml")
	require.NoError(t, config.Save(path, raw))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainEVM, cfg.Token.Chain)
	assert.Equal(t, 18, cfg.Token.Decimals)
	assert.False(t, cfg.RemoteSettings)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validateDecimals("12"))
	assert.Error(t, validateDecimals("-1"))
	assert.Error(t, validateDecimals("twelve"))

	assert.NoError(t, validateSS58Prefix(""))
	assert.NoError(t, validateSS58Prefix("7391"))
	assert.Error(t, validateSS58Prefix("70000"))

	ws := validateURL("ws", "wss")
	assert.NoError(t, ws("wss://rpc-opal.unique.network"))
	assert.Error(t, ws("https://rpc-opal.unique.network"))
	assert.Error(t, ws("rpc-opal"))

	substrate := Answers{Chain: string(domain.ChainSubstrate)}
	assert.NoError(t, validateAccount(substrate, ""))
	assert.NoError(t, validateAccount(substrate, alice))
	assert.Error(t, validateAccount(substrate, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))

	substrate.SS58Prefix = "7391"
	assert.Error(t, validateAccount(substrate, alice))

	evm := Answers{Chain: string(domain.ChainEVM)}
	assert.NoError(t, validateAccount(evm, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.Error(t, validateAccount(evm, alice))
}
