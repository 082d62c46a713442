package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/utils"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "生成默认配置文件",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "覆盖已存在的配置文件")
}

func runInit(cmd *cobra.Command, _ []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("配置文件已存在: %s (使用 --force 覆盖)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("检查配置文件失败: %w", err)
	}

	cfg := config.Default()
	display := path
	if cfgFile == "" {
		err = config.SaveConfig(cfg)
		display = utils.GetConfigPathForDisplay()
	} else {
		err = config.Save(path, cfg)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ 已生成配置文件: %s\n", display)
	fmt.Fprintf(out, "  支持的服务商: %v\n", config.Providers())
	return nil
}
