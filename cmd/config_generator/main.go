package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/jamzercise/lidify-fork/internal/cfggen"
)

func main() {
	envFile := flag.String("env-file", ".env", "env file to read overrides from")
	outputDir := flag.String("out", "configs", "directory to write the rendered config into")
	format := flag.String("format", "json", "output format (json or yaml)")
	flag.Parse()

	if *format != "json" && *format != "yaml" {
		fmt.Printf("Unknown format: %s. Use json or yaml.\n", *format)
		os.Exit(1)
	}

	src := viper.New()
	src.AutomaticEnv()
	src.SetConfigFile(*envFile)
	src.SetConfigType("env")
	if err := src.ReadInConfig(); err != nil {
		fmt.Printf("Warning: could not read %s, using environment variables only: %v\n", *envFile, err)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Printf("Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	gen := cfggen.NewCfgGen(src)
	gen.AddAll()

	outputFile := filepath.Join(*outputDir, "analyzer."+*format)
	file, err := os.Create(outputFile)
	if err != nil {
		fmt.Printf("Error creating output file %s: %v\n", outputFile, err)
		os.Exit(1)
	}
	defer file.Close()

	if err := gen.WriteTo(file, *format); err != nil {
		fmt.Printf("Error writing config to %s: %v\n", outputFile, err)
		os.Exit(1)
	}
	fmt.Printf("Analyzer config rendered to %s\n", outputFile)
}
