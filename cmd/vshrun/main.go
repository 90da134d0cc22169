// Command vshrun runs a script through the sandboxed interpreter
// against an in-memory filesystem, optionally seeded from a manifest.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	diffpkg "github.com/rogpeppe/go-internal/diff"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vshlang/vsh/interp"
	"github.com/vshlang/vsh/vfs"
)

func main() { os.Exit(main1()) }

// main1 runs the CLI and returns its exit code rather than calling
// os.Exit directly, so it can also be driven as a subprocess command
// from the testscript-based integration tests.
func main1() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		inline   string
		cwd      string
		manifest string
		errexit  bool
		pipefail bool
		nounset  bool
		batch    bool
		golden   string
	)

	root := &cobra.Command{
		Use:           "vshrun [script-file...]",
		Short:         "Run a script through the embedded sandboxed shell interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := interp.Options{Errexit: errexit, Pipefail: pipefail, Nounset: nounset}

			if batch {
				return runBatch(args, cwd, manifest, opts)
			}

			if len(args) > 1 {
				return fmt.Errorf("vshrun: more than one script file given without --batch")
			}
			script, err := readScript(inline, args)
			if err != nil {
				return err
			}

			ctx := context.Background()
			it, err := newInterpreter(ctx, cwd, manifest, opts)
			if err != nil {
				return err
			}

			res, runErr := it.Run(ctx, script)
			if golden != "" {
				return compareGolden(golden, res.Stdout)
			}
			fmt.Fprint(os.Stdout, res.Stdout)
			fmt.Fprint(os.Stderr, res.Stderr)
			if runErr != nil {
				return runErr
			}
			if res.ExitCode != 0 {
				os.Exit(res.ExitCode)
			}
			return nil
		},
	}

	root.Flags().StringVarP(&inline, "command", "c", "", "run the given inline script instead of a file")
	root.Flags().StringVar(&cwd, "cwd", "/", "initial working directory inside the virtual filesystem")
	root.Flags().StringVar(&manifest, "seed", "", "TOML or YAML manifest describing files to seed into the virtual filesystem")
	root.Flags().BoolVar(&errexit, "errexit", false, "set -e: abort on the first failing statement")
	root.Flags().BoolVar(&pipefail, "pipefail", false, "a pipeline's exit code is its last nonzero stage")
	root.Flags().BoolVar(&nounset, "nounset", false, "set -u: error on unset parameter expansion")
	root.Flags().BoolVar(&batch, "batch", false, "run each given script file against its own interpreter concurrently, printing results in argument order")
	root.Flags().StringVar(&golden, "golden", "", "compare stdout against this expected-output file instead of printing it; exit nonzero and print a unified diff on mismatch")

	return root
}

// compareGolden diffs got against the contents of wantFile, printing a
// unified diff (in the same format shfmt's own --diff flag uses) and
// returning a non-nil error when they differ.
func compareGolden(wantFile, got string) error {
	want, err := os.ReadFile(wantFile)
	if err != nil {
		return fmt.Errorf("reading golden file: %w", err)
	}
	d := diffpkg.Diff(wantFile, want, "stdout", []byte(got))
	if len(d) == 0 {
		return nil
	}
	os.Stdout.Write(d)
	return fmt.Errorf("vshrun: output did not match %s", wantFile)
}

// newInterpreter builds one sandboxed interpreter, seeding its virtual
// filesystem from manifest (if given) and its cwd/options from the
// rest of the arguments. Each batch worker and the single-script path
// both call this to get an independent, unshared Interpreter.
func newInterpreter(ctx context.Context, cwd, manifest string, opts interp.Options) (*interp.Interpreter, error) {
	fs := vfs.NewMemFS()
	var manifestData *vfs.Manifest
	if manifest != "" {
		raw, err := os.ReadFile(manifest)
		if err != nil {
			return nil, fmt.Errorf("reading seed manifest: %w", err)
		}
		manifestData, err = loadManifest(manifest, raw)
		if err != nil {
			return nil, err
		}
	}
	return interp.New(ctx, interp.Config{
		FS:           fs,
		InitialFiles: manifestData,
		Cwd:          firstNonEmpty(cwd, "/"),
		Env:          hostEnvSubset(),
		Options:      opts,
	})
}

// batchResult captures one --batch script's outcome so runBatch can
// print every result in argument order even though the scripts
// themselves ran concurrently.
type batchResult struct {
	path     string
	stdout   string
	stderr   string
	exitCode int
}

// runBatch runs each file in paths against its own freshly constructed
// interpreter concurrently via an errgroup.Group, then prints every
// result in the original argument order. It exits with status 1 if
// any script exited nonzero or failed to parse/run.
func runBatch(paths []string, cwd, manifest string, opts interp.Options) error {
	if len(paths) == 0 {
		return fmt.Errorf("vshrun: --batch requires at least one script file")
	}
	results := make([]batchResult, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				results[i] = batchResult{path: path, stderr: err.Error() + "\n", exitCode: 1}
				return nil
			}
			ctx := context.Background()
			it, err := newInterpreter(ctx, cwd, manifest, opts)
			if err != nil {
				results[i] = batchResult{path: path, stderr: err.Error() + "\n", exitCode: 1}
				return nil
			}
			res, runErr := it.Run(ctx, string(data))
			r := batchResult{path: path, stdout: res.Stdout, stderr: res.Stderr, exitCode: res.ExitCode}
			if runErr != nil {
				r.stderr += runErr.Error() + "\n"
				r.exitCode = 1
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := false
	for _, r := range results {
		fmt.Fprintf(os.Stdout, "==> %s <==\n", r.path)
		fmt.Fprint(os.Stdout, r.stdout)
		fmt.Fprint(os.Stderr, r.stderr)
		if r.exitCode != 0 {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
	return nil
}

func readScript(inline string, args []string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if len(args) == 0 {
		data, err := readAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading script from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading script file: %w", err)
	}
	return string(data), nil
}

func loadManifest(path string, raw []byte) (*vfs.Manifest, error) {
	if hasSuffix(path, ".toml") {
		return vfs.LoadManifestTOML(raw)
	}
	return vfs.LoadManifestYAML(raw)
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func hostEnvSubset() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return env
}

func readAll(f *os.File) (string, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
