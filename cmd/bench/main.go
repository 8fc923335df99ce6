package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/osmsg/GoMsgChan/internal/queue"
	"github.com/osmsg/GoMsgChan/internal/testbench"
	"github.com/osmsg/GoMsgChan/pkg/chanqueue"
	"github.com/osmsg/GoMsgChan/pkg/config"
	"github.com/osmsg/GoMsgChan/pkg/msgchan"
)

// BenchmarkResult holds results for one test run.
type BenchmarkResult struct {
	Implementation      string  `json:"implementation"`
	NumProducers        int     `json:"num_producers"`
	NumConsumers        int     `json:"num_consumers"`
	PayloadSize         int     `json:"payload_size_bytes"`
	NumMessages         int64   `json:"num_messages"`          // produced count
	NumMessagesConsumed int64   `json:"num_messages_consumed"` // consumed count
	TestDuration        string  `json:"test_duration"`         // e.g. "5s"
	ActualElapsed       string  `json:"actual_elapsed"`        // measured time
	Throughput          float64 `json:"throughput_msgs_sec"`   // based on consumed count
	Timestamp           int64   `json:"timestamp"`
	GoVersion           string  `json:"go_version"`
}

// SystemInfo holds system information.
type SystemInfo struct {
	NumCPU            int     `json:"num_cpu"`
	TrueCPU           int     `json:"true_cpu,omitempty"`
	SimulatedCPUCount int     `json:"simulated_cpu_count,omitempty"`
	CPUModel          string  `json:"cpu_model,omitempty"`
	CPUSpeedMHz       float64 `json:"cpu_speed_mhz,omitempty"`
	GOARCH            string  `json:"go_arch"`
	TotalMemory       uint64  `json:"total_memory_bytes,omitempty"`
}

// FullReport represents a complete test session.
type FullReport struct {
	SessionTime string            `json:"session_time"`
	SystemInfo  SystemInfo        `json:"system_info"`
	Benchmarks  []BenchmarkResult `json:"benchmarks"`
}

// benchCapacity is the aggregate byte budget every benched channel gets.
const benchCapacity = 2 * 1024 * 1024

// Implementation describes one byte-channel implementation under test.
type Implementation struct {
	name        string
	description string
	pkgName     string
	features    []string
	newChannel  func(capacityBytes uint64, payloadSize int) queue.ChannelValidationInterface
}

// outputMarkdownTable loads the JSON file and outputs a Markdown table.
func outputMarkdownTable(jsonFile string) {
	data, err := os.ReadFile(jsonFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading JSON file %q: %v\n", jsonFile, err)
		os.Exit(1)
	}
	var sessions []FullReport
	if err := json.Unmarshal(data, &sessions); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshalling JSON: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(os.Stderr, "No sessions found in JSON.")
		os.Exit(1)
	}
	// Use the last session for the table.
	lastSession := sessions[len(sessions)-1]
	implMetaMap := make(map[string]Implementation)
	for _, impl := range getImplementations() {
		implMetaMap[impl.name] = impl
	}
	type tableRow struct {
		implementation string
		pkgName        string
		features       string
		payloadSize    int
		throughput     float64
	}
	var rows []tableRow
	for _, bench := range lastSession.Benchmarks {
		meta, ok := implMetaMap[bench.Implementation]
		var pkgName, features string
		if ok {
			pkgName = meta.pkgName
			features = strings.Join(meta.features, ", ")
		}
		rows = append(rows, tableRow{
			implementation: bench.Implementation,
			pkgName:        pkgName,
			features:       features,
			payloadSize:    bench.PayloadSize,
			throughput:     bench.Throughput,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].throughput > rows[j].throughput
	})
	fmt.Println("## Last Session Benchmark Summary")
	fmt.Println()
	fmt.Println("| Implementation           | Package         | Features                           | Payload (B) | Throughput (msgs/sec) |")
	fmt.Println("|--------------------------|-----------------|------------------------------------|-------------|-----------------------|")
	for _, r := range rows {
		fmt.Printf("| %-24s | %-15s | %-34s | %11d | %21.0f |\n",
			r.implementation, r.pkgName, r.features, r.payloadSize, r.throughput)
	}
}

func main() {
	// Flags.
	configFile := flag.String("config", "", "Optional YAML bench configuration file")
	testIterations := flag.Int("iter", 0, "Override the number of test iterations per setting")
	cpuMaxFlag := flag.Int("cpu", 0, "If non-zero, test only that GOMAXPROCS value; if 0, test common CPU/vCPU values up to runtime.NumCPU()")
	jsonExport := flag.Bool("json", false, "Export results as JSON to test-results.json")
	markdownTable := flag.Bool("markdown-table", false, "Output markdown table from test-results.json and exit")
	jsonFileForMarkdown := flag.String("jsonfile", "test-results.json", "Path to JSON file for markdown table")
	progressFlag := flag.Bool("progress", false, "Display a progress bar with ETA")
	flag.Parse()

	if *markdownTable {
		outputMarkdownTable(*jsonFileForMarkdown)
		return
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *testIterations > 0 {
		cfg.Iterations = *testIterations
	}

	trueCpuCount := runtime.NumCPU()
	var cpuSettings []int
	commonCPUs := []int{1, 2, 3, 4, 6, 8, 12, 16, 32, 48, 56, 64, 96, 128, 192, 256}

	if *cpuMaxFlag > 0 {
		desired := *cpuMaxFlag
		if desired > trueCpuCount {
			desired = trueCpuCount
		}
		cpuSettings = []int{desired}
	} else {
		for _, v := range commonCPUs {
			if v <= trueCpuCount {
				cpuSettings = append(cpuSettings, v)
			}
		}
	}

	testDuration := time.Duration(cfg.Duration)

	// Calculate total number of tests for progress tracking.
	impls := getImplementations()
	totalTests := len(cpuSettings) * len(cfg.PayloadSizes) * len(cfg.Concurrency) * cfg.Iterations * len(impls)

	var bar *progressbar.ProgressBar
	if *progressFlag {
		bar = progressbar.NewOptions(totalTests,
			progressbar.OptionSetDescription("bench"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
	}

	var allSessions []FullReport

	for _, cpus := range cpuSettings {
		runtime.GOMAXPROCS(cpus)
		sysInfo := gatherSystemInfo()
		sysInfo.NumCPU = cpus
		sysInfo.TrueCPU = trueCpuCount
		sysInfo.SimulatedCPUCount = cpus

		fmt.Printf("\n=============================\n")
		fmt.Printf("GOMAXPROCS = %d\n", cpus)
		fmt.Printf("=============================\n")

		var results []BenchmarkResult

		for _, payloadSize := range cfg.PayloadSizes {
			for _, scenario := range cfg.Scenarios(payloadSize) {
				fmt.Printf("  [payload=%dB, producers=%d, consumers=%d]\n",
					payloadSize, scenario.NumProducers, scenario.NumConsumers)
				for iteration := 1; iteration <= cfg.Iterations; iteration++ {
					fmt.Printf("    iteration %d/%d\n", iteration, cfg.Iterations)
					for _, impl := range impls {
						runtime.GC()
						ch := impl.newChannel(benchCapacity, payloadSize)
						time.Sleep(250 * time.Millisecond)

						produced, consumed, actualTime := testbench.RunTimedTest(ch, scenario, testDuration)
						throughput := float64(consumed) / actualTime.Seconds()

						fmt.Printf("    %s => produced=%d, consumed=%d, throughput=%.0f msg/s, took=%v\n",
							impl.name, produced, consumed, throughput, actualTime)

						if bar != nil {
							bar.Add(1)
						}

						results = append(results, BenchmarkResult{
							Implementation:      impl.name,
							NumProducers:        scenario.NumProducers,
							NumConsumers:        scenario.NumConsumers,
							PayloadSize:         payloadSize,
							NumMessages:         produced,
							NumMessagesConsumed: consumed,
							TestDuration:        testDuration.String(),
							ActualElapsed:       actualTime.String(),
							Throughput:          throughput,
							Timestamp:           time.Now().Unix(),
							GoVersion:           runtime.Version(),
						})
					}
				}
			}
		}

		allSessions = append(allSessions, FullReport{
			SessionTime: time.Now().Format(time.RFC3339),
			SystemInfo:  sysInfo,
			Benchmarks:  results,
		})
	}

	// If JSON export is requested, append the new sessions to test-results.json.
	if *jsonExport {
		const filename = "test-results.json"
		var previous []FullReport
		if _, err := os.Stat(filename); err == nil {
			data, err := os.ReadFile(filename)
			if err == nil && len(data) > 0 {
				json.Unmarshal(data, &previous)
			}
		}
		updated := append(previous, allSessions...)
		data, err := json.MarshalIndent(updated, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error marshalling JSON:", err)
			os.Exit(1)
		}
		if err = os.WriteFile(filename, data, 0644); err != nil {
			fmt.Fprintln(os.Stderr, "Error writing JSON file:", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote results to %s\n", filename)
	}
}

// gatherSystemInfo collects basic CPU and memory details.
func gatherSystemInfo() SystemInfo {
	numCPU := runtime.NumCPU()
	goArch := runtime.GOARCH

	var cpuModel string
	var cpuSpeed float64
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		cpuModel = infos[0].ModelName
		cpuSpeed = infos[0].Mhz
	}

	var totalMemory uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		totalMemory = vm.Total
	}

	return SystemInfo{
		NumCPU:      numCPU,
		CPUModel:    cpuModel,
		CPUSpeedMHz: cpuSpeed,
		GOARCH:      goArch,
		TotalMemory: totalMemory,
	}
}

// getImplementations enumerates the byte-channel implementations under test.
func getImplementations() []Implementation {
	return []Implementation{
		{
			name:        "MsgChan",
			pkgName:     "msgchan",
			description: "Mutex-guarded linked queue with a byte-accounted aggregate capacity and a fixed per-message cap.",
			features:    []string{"MPMC", "FIFO", "Blocking", "ByteCapacity", "Resizable"},
			newChannel: func(capacityBytes uint64, payloadSize int) queue.ChannelValidationInterface {
				return msgchan.New(msgchan.WithCapacity(capacityBytes))
			},
		},
		{
			name:        "Golang Buffered Channel",
			pkgName:     "chanqueue",
			description: "Buffered Go channel bounded by message slots, sized to the same byte budget for the given payload.",
			features:    []string{"MPMC", "FIFO", "Blocking"},
			newChannel: func(capacityBytes uint64, payloadSize int) queue.ChannelValidationInterface {
				slots := capacityBytes / uint64(payloadSize)
				return chanqueue.New(slots)
			},
		},
	}
}
