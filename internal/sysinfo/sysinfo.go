// Package sysinfo describes the local host for HTTP requests and status output.
package sysinfo

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Host holds the host description sent to the admin.
type Host struct {
	Hostname string
	OSName   string
	Kernel   string
	Arch     string
	CPUs     int
	MemoryMB uint64
}

// Collect gathers the host description. Missing details are left empty.
func Collect() Host {
	hostname, _ := os.Hostname()
	osName, kernel := getOSInfo()

	h := Host{
		Hostname: hostname,
		OSName:   osName,
		Kernel:   kernel,
		Arch:     runtime.GOARCH,
		CPUs:     runtime.NumCPU(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemoryMB = vm.Total / (1024 * 1024)
	}
	return h
}

// UserAgent returns the User-Agent header value identifying this bootstrap
// build and host, like "StaminaBootstrap/1.0.0 (Ubuntu 22.04; amd64; go1.25.5)".
func UserAgent(version string) string {
	osName, _ := getOSInfo()
	return fmt.Sprintf("StaminaBootstrap/%s (%s; %s; %s)", version, osName, runtime.GOARCH, runtime.Version())
}

// getOSInfo retrieves OS name and kernel version.
func getOSInfo() (string, string) {
	var osName, kernel string

	hostInfo, err := host.Info()
	if err == nil && hostInfo.Platform != "" {
		osName = hostInfo.Platform
		if hostInfo.PlatformVersion != "" {
			osName += " " + hostInfo.PlatformVersion
		}
		kernel = hostInfo.KernelVersion
	} else {
		osName = runtime.GOOS
	}

	if runtime.GOOS == "linux" {
		if prettyName := readOSReleasePrettyName("/etc/os-release"); prettyName != "" {
			osName = prettyName
		}
	}

	return osName, kernel
}

// readOSReleasePrettyName parses an os-release file for the PRETTY_NAME field.
func readOSReleasePrettyName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
		}
	}
	return ""
}
