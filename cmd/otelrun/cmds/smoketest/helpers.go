package smoketest

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"

	"github.com/pkg/errors"
)

func findRootFromCaller() string {
	_, thisFile, _, ok := goruntime.Caller(0)
	if !ok {
		wd, _ := os.Getwd()
		return wd
	}
	// this file: otelrun/cmd/otelrun/cmds/smoketest/helpers.go
	return filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", "..", "..", ".."))
}

func buildTestApp(ctx context.Context, root string, pkg string, outPath string) error {
	c := exec.CommandContext(ctx, "go", "build", "-o", outPath, pkg)
	c.Dir = root
	c.Env = append(os.Environ(), "GOWORK=off")
	b, err := c.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "build %s: %s", pkg, string(b))
	}
	return nil
}

func findFreeTCPPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = ln.Close() }()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0, err
	}
	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)
	if port <= 0 {
		return 0, errors.New("failed to allocate port")
	}
	return port, nil
}
