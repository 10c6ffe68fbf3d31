package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	common "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/cli/common"
	servercmd "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/cli/servercmd"
)

func main() {
	root := &cobra.Command{Use: "website-assistant", Short: "Website assistant unified CLI"}

	root.AddCommand(servercmd.New())

	comp := &cobra.Command{Use: "completion [bash|zsh|fish|powershell]", Short: "Generate shell completion", Args: cobra.ExactArgs(1)}
	comp.RunE = func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return root.GenBashCompletion(os.Stdout)
		case "zsh":
			return root.GenZshCompletion(os.Stdout)
		case "fish":
			return root.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return root.GenPowerShellCompletionWithDesc(os.Stdout)
		default:
			return fmt.Errorf("unknown shell: %s", args[0])
		}
	}
	root.AddCommand(comp)

	var cfgFile, profile string
	var includes []string
	cfgTest := &cobra.Command{Use: "config-test", Short: "Validate a server config file in strict mode"}
	cfgTest.Flags().StringVar(&cfgFile, "config", "", "config file path")
	cfgTest.Flags().StringSliceVar(&includes, "include", nil, "extra config files merged in order")
	cfgTest.Flags().StringVar(&profile, "profile", "", "overlay server.profiles.<name>")
	cfgTest.RunE = func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			return fmt.Errorf("--config required")
		}
		v, err := common.LoadWithIncludes(cfgFile, includes)
		if err != nil {
			return err
		}
		if v.Sub("server") != nil || profile != "" {
			section := ""
			if v.Sub("server") != nil {
				section = "server"
			}
			if v, err = common.ApplySectionAndProfile(v, section, profile); err != nil {
				return err
			}
		}
		if err := common.ValidateServerConfig(v, true); err != nil {
			return err
		}
		fmt.Println("server config OK")
		return nil
	}
	root.AddCommand(cfgTest)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
