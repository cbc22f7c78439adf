// Command chaincore is a local node driving the core package against the
// bundled testchain demo runtime. It is deliberately thin: every
// subcommand opens a Backend, constructs a Client, performs one operation,
// and exits — there is no network layer (spec's Non-goals exclude
// networking/consensus-driving), so "import" takes an already-justified
// block from a local file rather than receiving one over the wire.
//
// Grounded on the teacher's cmd/synnergy/main.go root-command wiring and
// cmd/cli/ledger.go's read-only inspection surface, adapted from a
// JSON-over-TCP daemon client to direct in-process core.Client calls.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chaincore/core"
	"chaincore/core/testchain"
)

var (
	dataDir string
	devMode bool
	logger  = logrus.StandardLogger()
)

func main() {
	root := &cobra.Command{
		Use:   "chaincore",
		Short: "block-import and state-access core demo node",
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./chaincore-data", "chain directory for the file-backed store")
	root.PersistentFlags().BoolVar(&devMode, "dev", false, "use a throwaway in-memory backend instead of --data-dir")

	root.AddCommand(genesisCmd(), importCmd(), queryCmd())

	if err := root.Execute(); err != nil {
		logger.WithError(err).Error("chaincore: command failed")
		os.Exit(1)
	}
}

// openClient opens the configured backend and bootstraps genesis on first
// use, exactly as NewClient documents.
func openClient() (*core.Client, core.Backend, error) {
	var backend core.Backend
	if devMode {
		backend = core.NewMemBackend()
	} else {
		fb, err := core.NewFileBackend(dataDir, 100)
		if err != nil {
			return nil, nil, err
		}
		backend = fb
	}

	authorities, err := testchain.NewAuthoritySet(3)
	if err != nil {
		return nil, nil, err
	}
	genesis := testchain.BuildGenesis(testchain.DefaultBalances(), authorities.IDs)
	client, err := core.NewClient(backend, testchain.Executor{}, genesis)
	if err != nil {
		return nil, nil, err
	}
	return client, backend, nil
}

func closeBackend(backend core.Backend) {
	if fb, ok := backend.(*core.FileBackend); ok {
		if err := fb.Close(); err != nil {
			logger.WithError(err).Warn("chaincore: error closing backend")
		}
	}
}

func genesisCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genesis",
		Short: "bootstrap (or re-open) the chain and print its genesis header",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, backend, err := openClient()
			if err != nil {
				return err
			}
			defer closeBackend(backend)

			hdr, _, err := client.Header(core.ByNumber(0))
			if err != nil {
				return err
			}
			hash := hdr.Hash()
			fmt.Printf("genesis hash: 0x%s\n", hex.EncodeToString(hash[:]))
			return nil
		},
	}
}

// blockFile is the JSON on-disk shape `import` reads: a candidate header,
// its body, and an unchecked BFT justification. This node does not trust the
// file's header/justification pairing on faith — CheckJustification (C4) is
// run against it before import, exactly as a networked node would run it
// against a justification received over the wire, since there is no
// network/consensus component here to have done that already.
type blockFile struct {
	ParentHash string                   `json:"parent_hash"`
	Number     uint64                   `json:"number"`
	Extrinsics []jsonUncheckedExtrinsic `json:"extrinsics"`
	Round      uint64                   `json:"round"`
	Signatures []jsonAuthoritySig       `json:"signatures"`
	Raw        string                   `json:"justification_hex"`
}

type jsonUncheckedExtrinsic struct {
	Signed  string `json:"signed"`
	Index   uint64 `json:"index"`
	Method  string `json:"method"`
	ArgsHex string `json:"args_hex"`
	SigHex  string `json:"sig_hex"`
}

type jsonAuthoritySig struct {
	AuthorityHex string `json:"authority_hex"`
	SigHex       string `json:"sig_hex"`
}

func importCmd() *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "import [block.json]",
		Short: "import a single block described by a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var bf blockFile
			if err := json.Unmarshal(raw, &bf); err != nil {
				return err
			}

			header, body, err := decodeBlockFile(bf)
			if err != nil {
				return err
			}
			unchecked, raw, err := decodeJustification(bf)
			if err != nil {
				return err
			}

			client, backend, err := openClient()
			if err != nil {
				return err
			}
			defer closeBackend(backend)

			o, err := parseOrigin(origin)
			if err != nil {
				return err
			}

			justified, err := client.CheckJustification(header, unchecked, raw)
			if err != nil {
				return err
			}

			result, err := client.ImportBlock(o, justified, body)
			if err != nil {
				return err
			}
			fmt.Printf("imported %x new_best=%v already_in_chain=%v\n", result.Hash, result.IsNewBest, result.AlreadyInChain)
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "own", "import origin: genesis|network-initial-sync|network-broadcast|consensus-broadcast|own|file")
	return cmd
}

func decodeBlockFile(bf blockFile) (core.Header, []core.UncheckedExtrinsic, error) {
	parentHash, err := parseHash(bf.ParentHash)
	if err != nil {
		return core.Header{}, nil, err
	}
	header := core.Header{ParentHash: parentHash, Number: bf.Number}

	body := make([]core.UncheckedExtrinsic, 0, len(bf.Extrinsics))
	for _, e := range bf.Extrinsics {
		signed, err := parseAccount(e.Signed)
		if err != nil {
			return core.Header{}, nil, err
		}
		args, err := hex.DecodeString(e.ArgsHex)
		if err != nil {
			return core.Header{}, nil, fmt.Errorf("chaincore: bad args_hex: %w", err)
		}
		sigBytes, err := hex.DecodeString(e.SigHex)
		if err != nil || len(sigBytes) != 64 {
			return core.Header{}, nil, fmt.Errorf("chaincore: bad sig_hex")
		}
		var sig core.Signature
		copy(sig[:], sigBytes)
		body = append(body, core.UncheckedExtrinsic{
			Extrinsic: core.Extrinsic{Signed: signed, Index: e.Index, Call: core.Call{Method: e.Method, Args: args}},
			Signature: sig,
		})
	}
	return header, body, nil
}

func decodeJustification(bf blockFile) (core.UncheckedJustification, []byte, error) {
	parentHash, err := parseHash(bf.ParentHash)
	if err != nil {
		return core.UncheckedJustification{}, nil, err
	}
	sigs := make([]core.AuthoritySig, 0, len(bf.Signatures))
	for _, s := range bf.Signatures {
		var authority core.AuthorityId
		ab, err := hex.DecodeString(s.AuthorityHex)
		if err != nil || len(ab) != len(authority) {
			return core.UncheckedJustification{}, nil, fmt.Errorf("chaincore: bad authority_hex %q", s.AuthorityHex)
		}
		copy(authority[:], ab)

		var sig core.Signature
		sb, err := hex.DecodeString(s.SigHex)
		if err != nil || len(sb) != len(sig) {
			return core.UncheckedJustification{}, nil, fmt.Errorf("chaincore: bad sig_hex %q", s.SigHex)
		}
		copy(sig[:], sb)

		sigs = append(sigs, core.AuthoritySig{Authority: authority, Sig: sig})
	}
	raw, err := hex.DecodeString(bf.Raw)
	if err != nil {
		return core.UncheckedJustification{}, nil, fmt.Errorf("chaincore: bad justification_hex: %w", err)
	}
	return core.UncheckedJustification{Round: bf.Round, ParentHash: parentHash, Signatures: sigs}, raw, nil
}

func parseOrigin(s string) (core.BlockOrigin, error) {
	switch s {
	case "genesis":
		return core.OriginGenesis, nil
	case "network-initial-sync":
		return core.OriginNetworkInitialSync, nil
	case "network-broadcast":
		return core.OriginNetworkBroadcast, nil
	case "consensus-broadcast":
		return core.OriginConsensusBroadcast, nil
	case "own":
		return core.OriginOwn, nil
	case "file":
		return core.OriginFile, nil
	default:
		return 0, fmt.Errorf("chaincore: unknown origin %q", s)
	}
}

func parseHash(s string) (core.Hash, error) {
	var h core.Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("chaincore: bad hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func parseAccount(s string) (core.AccountId, error) {
	var a core.AccountId
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(a) {
		return a, fmt.Errorf("chaincore: bad account %q", s)
	}
	copy(a[:], b)
	return a, nil
}

func queryCmd() *cobra.Command {
	var number uint64
	var key string
	var raw bool
	cmd := &cobra.Command{
		Use:   "query",
		Short: "read a storage key as of a given block number",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, backend, err := openClient()
			if err != nil {
				return err
			}
			defer closeBackend(backend)

			if raw {
				hdr, ok, err := client.Header(core.ByNumber(number))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("chaincore: no header at number %d", number)
				}
				dump, err := core.DebugDumpHeader(hdr)
				if err != nil {
					return err
				}
				fmt.Printf("header(rlp) = 0x%s\n", hex.EncodeToString(dump))
				return nil
			}

			value, err := client.Storage(core.ByNumber(number), []byte(key))
			if err != nil {
				return err
			}
			fmt.Printf("%s = 0x%s\n", key, hex.EncodeToString(value))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&number, "number", 0, "block number to query at")
	cmd.Flags().StringVar(&key, "key", "", "storage key to read")
	cmd.Flags().BoolVar(&raw, "raw", false, "dump the header via RLP instead of reading a storage key")
	return cmd
}
