package main

import (
	"os"
	"time"

	"github.com/dblokhin/chainkeeper/chain"
	"github.com/dblokhin/chainkeeper/consensus"
	"github.com/dblokhin/chainkeeper/storage"
	"github.com/sirupsen/logrus"
)

func init() {
	// Output to stdout instead of the default stderr
	// Can be any io.Writer, see below for File example
	logrus.SetOutput(os.Stdout)

	// Log the debug severity or above.
	logrus.SetLevel(logrus.DebugLevel)
}

// config is read from the environment; this binary has no flag/CLI
// framework, keeping startup to a plain os.Getenv read.
type config struct {
	dsn       string
	networkID string
}

func loadConfig() config {
	cfg := config{
		dsn:       os.Getenv("DSN"),
		networkID: os.Getenv("NETWORK_ID"),
	}
	if cfg.networkID == "" {
		cfg.networkID = consensus.IDTestNet
	}
	return cfg
}

func genesisHeader() consensus.BlockHeader {
	return consensus.BlockHeader{
		PrevBlock:  consensus.ZeroHash,
		MerkleRoot: consensus.ZeroHash,
		Timestamp:  time.Date(2013, 6, 8, 0, 0, 0, 0, time.UTC),
		Bits:       0x1e0ffff0,
		Nonce:      0,
	}
}

func networkParams(id string) *consensus.NetworkParameters {
	genesis := genesisHeader()
	return &consensus.NetworkParameters{
		ID:               id,
		GenesisBlock:     &consensus.Block{Header: genesis},
		ProofOfWorkLimit: consensus.CompactToBig(0x1e0ffff0),
		Checkpoints:      map[int64]consensus.Hash{},
	}
}

func main() {
	logrus.Info("Starting")

	cfg := loadConfig()
	params := networkParams(cfg.networkID)

	db, err := storage.OpenSQLStore(cfg.dsn)
	if err != nil {
		logrus.WithError(err).Fatal("open store")
	}

	genesis := chain.BuildGenesis(params.GenesisBlock.Header)
	if _, err := db.Get(genesis.Hash()); err != nil {
		if err := db.Put(genesis); err != nil {
			logrus.WithError(err).Fatal("put genesis")
		}
		if err := db.SetChainHead(genesis); err != nil {
			logrus.WithError(err).Fatal("set genesis as chain head")
		}
	}

	hooks := &chain.HeaderOnlyHooks{Store: db}
	observers := chain.NewObserverRegistry()

	engine, err := chain.NewEngine(params, db, hooks, nil, observers)
	if err != nil {
		logrus.WithError(err).Fatal("start engine")
	}

	logrus.WithField("height", engine.BestHeight()).Info("chain engine ready")

	select {}
}
