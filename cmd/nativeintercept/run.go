package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daimatz/nativeintercept/pkg/intercept"
	"github.com/daimatz/nativeintercept/pkg/vm"
)

type runOptions struct {
	*rootOptions
	classPath string
	jmod      string
	intercept []string
	exclude   []string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "run <classfile | class>",
		Short: "Run a class with native interception attached",
		Long: `Attach the interception pipeline and execute the main method of a class.
A path ending in .class is loaded from its directory; a class name
(com/acme/Main or com.acme.Main) is looked up on --classpath. The natives of every --intercept class (and of its
wrapped superclasses) are traced: each call is logged, then passed on to the
bound native implementation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.classPath, "classpath", "", "User class directory (default: config classpath)")
	cmd.Flags().StringVar(&opts.jmod, "jmod", "", "Path to java.base.jmod (default: autodetect)")
	cmd.Flags().StringSliceVar(&opts.intercept, "intercept", nil, "Class to trace native calls of (repeatable)")
	cmd.Flags().StringSliceVar(&opts.exclude, "exclude", nil, "Never transform classes whose name contains this (repeatable)")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, target string) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	logger, err := o.newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	jmod := o.jmod
	if jmod == "" {
		jmod = cfg.Jmod
	}
	if jmod == "" {
		jmod = findJmodPath()
	}
	var bootstrap vm.ClassLoader
	if jmod != "" {
		bootstrap = vm.NewJmodClassLoader(jmod)
	}
	dir, className := o.classPath, strings.ReplaceAll(target, ".", "/")
	if strings.HasSuffix(target, ".class") {
		dir = filepath.Dir(target)
		className = strings.TrimSuffix(filepath.Base(target), ".class")
	}
	if dir == "" {
		dir = cfg.ClassPath
	}

	v := vm.NewVM(vm.NewUserClassLoader(dir, bootstrap),
		vm.WithStdout(cmd.OutOrStdout()),
		vm.WithLogger(logger))

	exclude := append(append([]string(nil), cfg.Exclude...), o.exclude...)
	agent, err := intercept.Attach(v, intercept.Options{
		Filters: []intercept.ClassnameFilter{intercept.ContainsFilter(exclude...)},
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	trace := traceHandler(v, logger)
	for _, name := range append(append([]string(nil), cfg.Intercept...), o.intercept...) {
		c, err := v.LoadClass(name)
		if err != nil {
			return fmt.Errorf("loading %s: %w", name, err)
		}
		if err := agent.Intercept(c, trace, true); err != nil {
			return err
		}
	}

	if err := v.Execute(className); err != nil {
		return fmt.Errorf("executing %s: %w", className, err)
	}
	return nil
}

// traceHandler logs every intercepted call and delegates it to the bound
// native implementation.
func traceHandler(v *vm.VM, logger *zap.Logger) intercept.Handler {
	return intercept.HandlerFunc(func(receiver any, m *intercept.Method, args []any) (any, error) {
		logger.Info("native call",
			zap.Stringer("method", m),
			zap.Int("args", len(args)))
		return v.CallNative(receiver, m, args)
	})
}
