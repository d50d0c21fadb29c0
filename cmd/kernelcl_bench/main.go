// kernelcl_bench runs a chain of dependent kernels on a backend, verifies the results against the host,
// and reports timings and program cache statistics.
//
// The backend is selected with -backend, or $KERNELCL_BACKEND, e.g.: -backend="go:workers=8".
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelcl/backends"
	_ "github.com/gomlx/kernelcl/backends/simplego"
	"github.com/gomlx/kernelcl/kernels"
	"github.com/gomlx/kernelcl/kernels/stdkernels"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "",
		fmt.Sprintf("Backend configuration, in the format \"name:config\". If empty uses $%s or the default backend.",
			backends.ConfigEnvVar))
	flagSize       = flag.Int("size", 1<<16, "Number of elements of each buffer.")
	flagIterations = flag.Int("iterations", 100, "Number of times the chain of kernels is run.")
	flagAlpha      = flag.Float64("alpha", 0.5, "Scalar multiplier used in the chain.")
	flagConstant   = flag.Int("constant", 2, "Value of the CONSTANT option of add_constant, a compile-time option.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagSize <= 0 || *flagSize > math.MaxInt32 {
		klog.Errorf("Invalid -size=%d, it must be between 1 and %d", *flagSize, math.MaxInt32)
		os.Exit(1)
	}

	var backend backends.Backend
	if *flagBackend != "" {
		backend = must.M1(backends.NewWithConfig(*flagBackend))
	} else {
		backend = backends.MustNew()
	}
	defer backend.Finalize()
	exec := kernels.NewExecutor(backend, nil)

	warmupTimes := warmup(exec)
	elapsed, err := run(exec)
	if err != nil {
		klog.Errorf("Benchmark failed: %+v", err)
		os.Exit(1)
	}
	report(exec, warmupTimes, elapsed)
}

type warmupTime struct {
	kernel  string
	elapsed time.Duration
}

// warmup compiles the kernels used by the chain, so the compilation is not timed with the runs.
func warmup(exec *kernels.Executor) []warmupTime {
	var times []warmupTime
	for _, k := range []*kernels.KernelCL{stdkernels.Fill, stdkernels.ScalarMultiply, stdkernels.Add, stdkernels.SumGroups} {
		start := time.Now()
		must.M(k.Warmup(exec))
		times = append(times, warmupTime{k.Name(), time.Since(start)})
	}
	start := time.Now()
	must.M(stdkernels.AddConstant.WarmupWithOptions(exec, kernels.Options{"CONSTANT": kernels.IntOption(*flagConstant)}))
	times = append(times, warmupTime{stdkernels.AddConstant.Name(), time.Since(start)})
	return times
}

// run the chain -iterations times, verifying the sum of the result of each iteration:
//
//	a = i; a += CONSTANT; b = alpha * a; c = a + b; sum(c)
func run(exec *kernels.Executor) (time.Duration, error) {
	n := *flagSize
	global := []int{n}
	a := must.M1(exec.NewBuffer(dtypes.Float64, n))
	b := must.M1(exec.NewBuffer(dtypes.Float64, n))
	c := must.M1(exec.NewBuffer(dtypes.Float64, n))
	defer func() {
		for _, buffer := range []backends.Buffer{a, b, c} {
			if err := exec.Release(buffer); err != nil {
				klog.Warningf("Failed to release buffer: %+v", err)
			}
		}
	}()
	addConstantOptions := kernels.Options{"CONSTANT": kernels.IntOption(*flagConstant)}

	bar := progressbar.NewOptions(*flagIterations,
		progressbar.OptionSetDescription("Running"),
		progressbar.OptionEnableColorCodes(termenv.EnvColorProfile() != termenv.Ascii),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("chains"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	start := time.Now()
	for iteration := range *flagIterations {
		value := float64(iteration)
		if _, err := stdkernels.Fill.Call(exec, global, a, value, n); err != nil {
			return 0, err
		}
		if _, err := stdkernels.AddConstant.CallWithOptions(exec, addConstantOptions, global, nil, a, n); err != nil {
			return 0, err
		}
		if _, err := stdkernels.ScalarMultiply.Call(exec, global, a, b, *flagAlpha, n); err != nil {
			return 0, err
		}
		if _, err := stdkernels.Add.Call(exec, global, a, b, c, n); err != nil {
			return 0, err
		}
		sum, err := stdkernels.Sum(exec, c, n)
		if err != nil {
			return 0, err
		}
		want := float64(n) * (value + float64(*flagConstant)) * (1 + *flagAlpha)
		if math.Abs(sum-want) > 1e-9*math.Max(1, math.Abs(want)) {
			return 0, errors.Errorf("iteration %d: device sum is %g, host reference is %g", iteration, sum, want)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return time.Since(start), exec.Finish()
}

func report(exec *kernels.Executor, warmupTimes []warmupTime, elapsed time.Duration) {
	backend := exec.Backend()
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false)
	table.Row("backend", backend.Name())
	table.Row("description", backend.Description())
	table.Row("max work-group size", humanize.Comma(int64(backend.MaxWorkGroupSize())))
	table.Row("buffer size", fmt.Sprintf("%s elements (%s)", humanize.Comma(int64(*flagSize)),
		humanize.Bytes(uint64(*flagSize)*uint64(dtypes.Float64.Size()))))
	table.Row("iterations", humanize.Comma(int64(*flagIterations)))
	table.Row("elapsed", elapsed.String())
	if *flagIterations > 0 {
		table.Row("time per chain", (elapsed / time.Duration(*flagIterations)).String())
	}
	table.Row("# programs cached", humanize.Comma(int64(exec.Cache().NumPrograms())))
	table.Row("# program builds", humanize.Comma(int64(exec.Cache().NumBuilds())))
	table.Row("# tracked buffers", humanize.Comma(int64(exec.NumTrackedBuffers())))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Compilation"))
	table = newPlainTable(true)
	table.Row("Kernel", "Time")
	for _, wt := range warmupTimes {
		table.Row(wt.kernel, wt.elapsed.String())
	}
	fmt.Println(table.Render())
}
