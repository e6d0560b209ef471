package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/core"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/redis/go-redis/v9"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("  bilicrawler 环境验证")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	goVersion := runtime.Version()
	fmt.Printf("✅ Go版本: %s\n", goVersion)
	if strings.HasPrefix(goVersion, "go1.2") && goVersion < "go1.24" {
		fmt.Println("⚠️  警告: 建议使用Go 1.24+版本")
	}
	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// 浏览器
	if path, ok := launcher.LookPath(); ok {
		fmt.Printf("✅ 找到Chromium: %s\n", path)
	} else {
		fmt.Println("⚠️  未找到本地Chromium - 首次运行时会自动下载")
	}

	// 配置文件
	fmt.Println()
	fmt.Println("检查配置...")
	config, err := core.LoadConfig("")
	if err != nil {
		fmt.Printf("❌ 配置加载失败: %v\n", err)
		allOK = false
	} else {
		if used := config.ConfigFileUsed(); used != "" {
			fmt.Printf("✅ 配置文件: %s\n", used)
		} else {
			fmt.Println("⚠️  未找到配置文件,使用默认配置")
		}
		if _, err := config.BuildJob(); err != nil {
			fmt.Printf("⚠️  默认任务不完整: %v\n", err)
		}
		if config.Storage.Option == "redis" && !checkRedis(config.Storage.RedisAddr, config.Storage.RedisPassword) {
			allOK = false
		}
	}

	// Go模块依赖
	fmt.Println()
	fmt.Println("检查Go模块依赖...")
	if _, err := os.Stat("go.mod"); err == nil {
		fmt.Println("✅ go.mod文件存在")
		fmt.Println("正在下载依赖...")
		if err := exec.Command("go", "mod", "download").Run(); err != nil {
			fmt.Printf("❌ go mod download失败: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ 依赖下载完成")
		}
	} else {
		fmt.Println("❌ go.mod文件不存在")
		allOK = false
	}

	fmt.Println()
	fmt.Println("检查项目结构...")
	requiredDirs := []string{
		"cmd/bilicrawler",
		"internal/bilibili",
		"internal/core",
		"internal/models",
		"internal/proxy",
		"internal/store",
		"internal/utils",
		"configs",
	}
	for _, dir := range requiredDirs {
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("✅ %s/\n", dir)
		} else {
			fmt.Printf("❌ %s/ 不存在\n", dir)
			allOK = false
		}
	}

	fmt.Println()
	fmt.Println("==============================================")
	if allOK {
		fmt.Println("✅ 环境验证通过!")
		fmt.Println()
		fmt.Println("下一步:")
		fmt.Println("  1. 运行 'go build -o bilicrawler ./cmd/bilicrawler' 构建项目")
		fmt.Println("  2. 运行 './bilicrawler --validate-config' 检查配置")
		fmt.Println("  3. 运行 './bilicrawler --help' 查看帮助")
		os.Exit(0)
	}
	fmt.Println("❌ 环境验证失败,请解决上述问题。")
	os.Exit(1)
}

// checkRedis 存储方式为redis时检查连通性
func checkRedis(addr, password string) bool {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		fmt.Printf("❌ Redis不可用 (%s): %v\n", addr, err)
		return false
	}
	fmt.Printf("✅ Redis可用: %s\n", addr)
	return true
}
