package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rslabbox/gotftp"
)

func main() {
	var (
		get        bool
		put        bool
		srcFile    string
		destFile   string
		addr       string
		blockSize  int
		windowSize int
		timeout    int
	)

	flag.StringVar(&addr, "addr", "", "addr=x.x.x.x:69")
	flag.StringVar(&srcFile, "src", "", "src=xxxx.file")
	flag.StringVar(&destFile, "dst", "", "dst=xxxx.file")
	flag.BoolVar(&get, "get", false, "get src=xxxx.file")
	flag.BoolVar(&put, "put", false, "put src=xxxx.file dst=yyyy.file")
	flag.IntVar(&blockSize, "blksize", 0, "proposed blksize, 0 for package default")
	flag.IntVar(&windowSize, "windowsize", 0, "proposed windowsize, 0 for package default")
	flag.IntVar(&timeout, "timeout", 0, "proposed timeout in seconds, 0 for package default")
	flag.Parse()

	if len(addr) == 0 {
		fmt.Println("invalid command, please set remote address")
		os.Exit(1)
	}

	cfg := gotftp.ClientConfig{
		BlockSize:  blockSize,
		WindowSize: windowSize,
		Timeout:    timeout,
	}
	client, err := gotftp.Dial(addr, cfg)
	if err != nil {
		fmt.Println("err:", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()

	switch {
	case get:
		if len(srcFile) == 0 {
			fmt.Println("invalid command, please set source file name")
			os.Exit(1)
		}
		f, err := os.OpenFile("./"+srcFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			fmt.Println("err:", err.Error())
			os.Exit(1)
		}
		defer f.Close()
		if err := client.Get(ctx, srcFile, f); err != nil {
			fmt.Println("err:", err.Error())
			os.Exit(1)
		}

	case put:
		if len(srcFile) == 0 || len(destFile) == 0 {
			fmt.Println("invalid command")
			os.Exit(1)
		}
		f, err := os.OpenFile(srcFile, os.O_RDONLY, 0644)
		if err != nil {
			fmt.Println("err:", err.Error())
			os.Exit(1)
		}
		defer f.Close()
		if err := client.Put(ctx, destFile, f); err != nil {
			fmt.Println("err:", err.Error())
			os.Exit(1)
		}

	default:
		fmt.Println("invalid command, specify -get or -put")
		os.Exit(1)
	}
}
