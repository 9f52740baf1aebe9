package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/layoutkit/layoutkit/pkg/cimport"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	layoutPath string
	valuePath  string
	inputPath  string
	outputPath string
	logLevel    string
	xmlPath     string
	typeName    string
	rootCmd     *cobra.Command
	versionFlag bool
)

func init() {
	rootCmd = &cobra.Command{
		Use:     "layoutkit-inspect",
		Short:   "Pack and unpack values against a JSON-described binary layout",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&versionFlag, "version", "V", false, "Show version information")

	packCmd := &cobra.Command{
		Use:   "pack",
		Short: "Encode a JSON value against a layout into bytes",
		RunE:  runPack,
	}
	packCmd.Flags().StringVarP(&layoutPath, "layout", "l", "", "Path to layout.json (required)")
	packCmd.Flags().StringVarP(&valuePath, "value", "v", "", "Path to value.json (required)")
	packCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path for packed bytes (defaults to stdout hex dump)")
	if err := packCmd.MarkFlagRequired("layout"); err != nil {
		panic(err)
	}
	if err := packCmd.MarkFlagRequired("value"); err != nil {
		panic(err)
	}

	unpackCmd := &cobra.Command{
		Use:   "unpack",
		Short: "Decode bytes against a layout and print the resulting value",
		RunE:  runUnpack,
	}
	unpackCmd.Flags().StringVarP(&layoutPath, "layout", "l", "", "Path to layout.json (required)")
	unpackCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Path to the binary input file (required)")
	if err := unpackCmd.MarkFlagRequired("layout"); err != nil {
		panic(err)
	}
	if err := unpackCmd.MarkFlagRequired("input"); err != nil {
		panic(err)
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Resolve a type from a compiler-emitted XML tree, optionally decoding bytes against it",
		RunE:  runImport,
	}
	importCmd.Flags().StringVarP(&xmlPath, "xml", "x", "", "Path to the compiler XML type tree (required)")
	importCmd.Flags().StringVarP(&typeName, "type", "t", "", "Name of the type to resolve (required)")
	importCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Binary input to decode against the imported type")
	if err := importCmd.MarkFlagRequired("xml"); err != nil {
		panic(err)
	}
	if err := importCmd.MarkFlagRequired("type"); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(packCmd, unpackCmd, importCmd)
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-V") {
		fmt.Printf("layoutkit-inspect %s\n", version)
		os.Exit(0)
	}
	if err := rootCmd.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func loadLayout(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}
	var spec map[string]any
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}
	return spec, nil
}

func runPack(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	layoutSpec, err := loadLayout(layoutPath)
	if err != nil {
		return err
	}
	desc, err := buildDescriptor(layoutSpec)
	if err != nil {
		return fmt.Errorf("building descriptor: %w", err)
	}

	raw, err := os.ReadFile(valuePath)
	if err != nil {
		return fmt.Errorf("reading value: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("parsing value: %w", err)
	}
	value = jsonToLayoutValue(value)

	logger.Debug("packing value", "layout", layoutPath, "value", valuePath)
	packed, err := desc.Pack(value)
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, packed, 0o644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		color.Green("wrote %d bytes to %s", len(packed), outputPath)
		return nil
	}
	printHexDump(packed)
	return nil
}

func runUnpack(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	layoutSpec, err := loadLayout(layoutPath)
	if err != nil {
		return err
	}
	desc, err := buildDescriptor(layoutSpec)
	if err != nil {
		return fmt.Errorf("building descriptor: %w", err)
	}

	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	logger.Debug("unpacking input", "layout", layoutPath, "input", inputPath, "bytes", len(raw))
	value, err := desc.Unpack(raw)
	if err != nil {
		return fmt.Errorf("unpack: %w", err)
	}

	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	color.Cyan("%s", out)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	f, err := os.Open(xmlPath)
	if err != nil {
		return fmt.Errorf("opening type tree: %w", err)
	}
	defer f.Close()

	tree, err := cimport.Parse(f, cimport.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("parsing type tree: %w", err)
	}
	desc, err := tree.Descriptor(typeName)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", typeName, err)
	}

	if desc.FixedSize() {
		color.Green("%s: %d bytes, fixed size", typeName, desc.Size())
	} else {
		color.Green("%s: variable size (minimum %d bytes)", typeName, desc.Size())
	}

	if inputPath == "" {
		return nil
	}
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	value, err := desc.Unpack(raw)
	if err != nil {
		return fmt.Errorf("unpack: %w", err)
	}
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	color.Cyan("%s", out)
	return nil
}

// newLogger builds the command's logger. The --log-level flag wins, then
// LAYOUTKIT_LOG_LEVEL, then warn; LAYOUTKIT_JSON_LOG=1 switches to
// machine-readable output.
func newLogger() hclog.Logger {
	level := logLevel
	if level == "" {
		level = os.Getenv("LAYOUTKIT_LOG_LEVEL")
	}
	if level == "" {
		level = "warn"
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "layoutkit-inspect",
		Level:      hclog.LevelFromString(level),
		JSONFormat: os.Getenv("LAYOUTKIT_JSON_LOG") == "1",
		Output:     os.Stderr,
	})
}

// jsonToLayoutValue recursively normalizes decoded JSON (map[string]any,
// []any, float64, string, bool, nil) into the shapes the descriptor tree
// expects; structs and unions already use map[string]any, so this mostly
// passes values through unchanged.
func jsonToLayoutValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = jsonToLayoutValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = jsonToLayoutValue(e)
		}
		return out
	case float64:
		// encoding/json decodes every JSON number as float64; descriptors
		// expect native Go integer kinds, so narrow whole numbers back down.
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	default:
		return v
	}
}

func printHexDump(data []byte) {
	dump := hex.Dump(data)
	color.Yellow("%s", dump)
}
