package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/daimatz/nativeintercept/pkg/classfile"
	"github.com/daimatz/nativeintercept/pkg/intercept"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <classfile>",
		Short: "List the pipeline markers and native methods of a class file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cf, err := classfile.ParseFile(args[0])
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), cf)
		},
	}
}

func inspect(w io.Writer, cf *classfile.ClassFile) error {
	name, err := cf.ClassName()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "class %s extends %s\n", name, cf.SuperClassName())
	fmt.Fprintf(w, "  markers: %s\n", intercept.ClassMarkers(cf))
	for i := range cf.Methods {
		m := &cf.Methods[i]
		markers := intercept.MethodMarkers(cf, m)
		var kind string
		switch {
		case m.IsNative():
			kind = "native"
		case markers.Has(intercept.Intercepted):
			kind = "intercepted"
		case markers.Has(intercept.WasNative):
			kind = "forwarder"
		default:
			continue
		}
		fmt.Fprintf(w, "  %-11s %s%s\n", kind, m.Name, m.Descriptor)
	}
	return nil
}
