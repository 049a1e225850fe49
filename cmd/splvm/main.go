package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"splvm/vm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "splvm",
		Short: "SPL compiler, assembler, loader and 64-bit VM",
	}

	var debug bool
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "print each pipeline stage's output as it runs")

	var libDir string
	var outDir string

	compileCmd := &cobra.Command{
		Use:   "compile [source.spl]",
		Short: "Preprocess and compile SPL source to assembly text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(args[0], libDir, outDir, debug)
		},
	}
	compileCmd.Flags().StringVar(&libDir, "libdir", "", "include search directory for #include")
	compileCmd.Flags().StringVar(&outDir, "outdir", ".", "directory for .pp/.s output files")

	var asmOutDir string
	assembleCmd := &cobra.Command{
		Use:   "assemble [source.s]",
		Short: "Assemble assembly text into a 64-bit word image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssemble(args[0], asmOutDir, debug)
		},
	}
	assembleCmd.Flags().StringVar(&asmOutDir, "outdir", ".", "directory for .o/.i/.meta.json output files")

	var loadBase int
	loadCmd := &cobra.Command{
		Use:   "load [image.i]",
		Short: "Load an image file into memory at a base address and halt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(args[0], uint32(loadBase))
		},
	}
	loadCmd.Flags().IntVar(&loadBase, "base", vm.CodeStart, "base address to load the image at")

	var runBase int
	runCmd := &cobra.Command{
		Use:   "run [image.i]",
		Short: "Load an image and run it to completion, relaying terminal I/O",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(args[0], uint32(runBase))
		},
	}
	runCmd.Flags().IntVar(&runBase, "base", vm.CodeStart, "base address to load the image at")

	var stepBase int
	stepCmd := &cobra.Command{
		Use:   "step [image.i]",
		Short: "Load an image and single-step it, printing each instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(args[0], uint32(stepBase))
		},
	}
	stepCmd.Flags().IntVar(&stepBase, "base", vm.CodeStart, "base address to load the image at")

	rootCmd.AddCommand(compileCmd, assembleCmd, loadCmd, runCmd, stepCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCompile(path, libDir, outDir string, debug bool) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	pre := vm.NewPreprocessor(libDir)
	preprocessed, err := pre.Run(string(source), path)
	if err != nil {
		return err
	}
	if debug {
		fmt.Println("--- preprocessed ---")
		fmt.Println(preprocessed)
	}

	assembly, err := vm.Compile(preprocessed)
	if err != nil {
		return err
	}
	if debug {
		fmt.Println("--- assembly ---")
		fmt.Println(assembly)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.WriteFile(filepath.Join(outDir, base+".pp"), []byte(preprocessed), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, base+".s"), []byte(assembly), 0o644)
}

func runAssemble(path, outDir string, debug bool) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	asm, err := vm.Assemble(string(source))
	if err != nil {
		return err
	}
	if debug {
		fmt.Printf("entry_index=%d result_addr=%d words=%d\n", asm.EntryIndex, asm.ResultAddr, len(asm.Words))
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.WriteFile(filepath.Join(outDir, base+".o"), []byte(vm.ObjectText(asm)), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, base+".i"), []byte(vm.WordsToImageText(asm.Words)), 0o644); err != nil {
		return err
	}
	meta, err := asm.MetadataJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, base+".meta.json"), meta, 0o644)
}

func runLoad(path string, base uint32) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	machine := vm.NewMachine(nil)
	driver := vm.NewDriver(machine)
	if err := driver.Load(string(image), base); err != nil {
		return err
	}
	fmt.Printf("loaded %s at base %d\n", path, base)
	return nil
}

func runRun(path string, base uint32) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	term := vm.NewTerminal(16, func(rendered string) {
		fmt.Print(rendered)
	})
	machine := vm.NewMachine(term)
	driver := vm.NewDriver(machine)
	if err := driver.Load(string(image), base); err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)
	err = driver.Run(base)
	for isInputNeeded(err) {
		fmt.Print("? ")
		line, readErr := stdin.ReadString('\n')
		if readErr != nil {
			return readErr
		}
		term.PushInput(strings.TrimSpace(line))
		err = driver.Resume()
	}
	return err
}

func runStep(path string, base uint32) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	term := vm.NewTerminal(16, func(rendered string) {
		fmt.Print(rendered)
	})
	machine := vm.NewMachine(term)
	driver := vm.NewDriver(machine)
	if err := driver.Load(string(image), base); err != nil {
		return err
	}

	driver.StartStepping(base)
	for {
		rendered, halted, err := driver.StepOnce()
		if err != nil {
			if isInputNeeded(err) {
				fmt.Print("? ")
				var text string
				fmt.Scanln(&text)
				term.PushInput(text)
				continue
			}
			return err
		}
		fmt.Println(rendered)
		if halted {
			return nil
		}
	}
}

func isInputNeeded(err error) bool {
	var need *vm.InputNeeded
	return errors.As(err, &need)
}
