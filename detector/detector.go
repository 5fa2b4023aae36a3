// Package detector reports the compute resources available to the
// inference runtime.
package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/openfluke/webgpu/wgpu"
)

/* ---------- public API ---------- */

// Report is a portable summary of the host CPU and, when present, the GPU.
type Report struct {
	WhenISO  string  `json:"when_iso"`
	Runtime  string  `json:"runtime"` // "native" or "wasm" (best-effort)
	CPU      CPUInfo `json:"cpu"`
	GPU      *GPU    `json:"gpu,omitempty"`
	GPUError string  `json:"gpu_error,omitempty"`
}

// CPUInfo is filled from cpuid.
type CPUInfo struct {
	Brand         string   `json:"brand"`
	Vendor        string   `json:"vendor"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	L1DataBytes   int      `json:"l1d_bytes"`
	L2Bytes       int      `json:"l2_bytes"`
	L3Bytes       int      `json:"l3_bytes"`
	SIMD          []string `json:"simd"`
	GOMAXPROCS    int      `json:"gomaxprocs"`
}

// GPU describes the high-performance adapter.
type GPU struct {
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	Recommended Recommendations   `json:"recommended"`
	Limits      Limits            `json:"limits"`
	Features    []string          `json:"features"`
	Env         map[string]string `json:"env,omitempty"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	// Conservative 1D workgroup that should run everywhere.
	WorkgroupX uint32 `json:"workgroup_x"`

	// Soft VRAM budget in bytes for staging + temps.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// BudgetEnv overrides the GPU budget in MiB.
const BudgetEnv = "SRNET_GPU_BUDGET_MB"

// DetectJSON runs a probe and returns the indented JSON string.
func DetectJSON() (string, error) {
	b, err := json.MarshalIndent(Detect(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect never fails: a GPU probe error is recorded in GPUError and leaves
// GPU nil.
func Detect() *Report {
	rep := &Report{
		WhenISO: time.Now().UTC().Format(time.RFC3339),
		Runtime: detectRuntime(),
		CPU:     DetectCPU(),
	}
	gpu, err := DetectGPU()
	if err != nil {
		rep.GPUError = err.Error()
	} else {
		rep.GPU = gpu
	}
	return rep
}

// simdFeatures are the extensions reported when the CPU supports them.
var simdFeatures = []struct {
	name string
	id   cpuid.FeatureID
}{
	{"SSE4.2", cpuid.SSE42},
	{"AVX", cpuid.AVX},
	{"AVX2", cpuid.AVX2},
	{"FMA3", cpuid.FMA3},
	{"AVX512F", cpuid.AVX512F},
	{"AVX512DQ", cpuid.AVX512DQ},
	{"ASIMD", cpuid.ASIMD},
}

func DetectCPU() CPUInfo {
	info := CPUInfo{
		Brand:         strings.TrimSpace(cpuid.CPU.BrandName),
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		L1DataBytes:   cpuid.CPU.Cache.L1D,
		L2Bytes:       cpuid.CPU.Cache.L2,
		L3Bytes:       cpuid.CPU.Cache.L3,
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
	}
	for _, f := range simdFeatures {
		if cpuid.CPU.Supports(f.id) {
			info.SIMD = append(info.SIMD, f.name)
		}
	}
	return info
}

// RecommendedWorkers is the default Conv2D pool size: the logical core count
// reported by cpuid, capped by GOMAXPROCS.
func RecommendedWorkers() int {
	n := cpuid.CPU.LogicalCores
	if limit := runtime.GOMAXPROCS(0); n <= 0 || n > limit {
		n = limit
	}
	return n
}

// DetectGPU probes the default high-performance adapter.
func DetectGPU() (*GPU, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("no adapter")
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	budget := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv(BudgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}

	return &GPU{
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits: Limits{
			MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
			MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
			MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
			MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
			MaxBufferSize:                     limits.Limits.MaxBufferSize,
		},
		Features: feats,
		Recommended: Recommendations{
			WorkgroupX:  chooseWorkgroup(limits.Limits.MaxComputeWorkgroupSizeX, limits.Limits.MaxComputeInvocationsPerWorkgroup),
			BudgetBytes: budget,
		},
		Env: pickEnv([]string{BudgetEnv}),
	}, nil
}

/* ---------- helpers ---------- */

func chooseWorkgroup(maxX, maxTotal uint32) uint32 {
	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if c <= maxX && c <= maxTotal {
			return c
		}
	}
	// absolute portability fallback
	return 1
}

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
