package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daimatz/nativeintercept/pkg/intercept"
)

type wrapOptions struct {
	output    string
	intercept bool
}

func newWrapCmd() *cobra.Command {
	opts := &wrapOptions{}
	cmd := &cobra.Command{
		Use:   "wrap <classfile>",
		Short: "Apply the wrapping stage to a class file",
		Long: `Rewrite the native methods of a class file into forwarders and prefixed
natives. With --intercept the intercepting stage is applied as well. A class
with nothing to rewrite is written out byte for byte.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output class file (required)")
	cmd.Flags().BoolVar(&opts.intercept, "intercept", false, "Also apply the intercepting stage")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (o *wrapOptions) run(cmd *cobra.Command, filename string) error {
	in, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading class file: %w", err)
	}

	out, stages, err := transform(in, o.intercept)
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	if err := os.WriteFile(o.output, out, 0o644); err != nil {
		return fmt.Errorf("writing class file: %w", err)
	}
	if len(stages) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: unchanged\n", filename)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %v -> %s\n", filename, stages, o.output)
	return nil
}

// transform runs the offline stages and reports which of them changed the class.
func transform(b []byte, alsoIntercept bool) ([]byte, []string, error) {
	var stages []string
	wrapped, err := intercept.Wrap(b)
	if err != nil {
		return nil, nil, err
	}
	if wrapped != nil {
		b = wrapped
		stages = append(stages, "wrap")
	}
	if !alsoIntercept {
		return b, stages, nil
	}
	intercepted, err := intercept.InterceptNatives(b)
	if err != nil {
		return nil, nil, err
	}
	if intercepted != nil {
		b = intercepted
		stages = append(stages, "intercept")
	}
	return b, stages, nil
}
