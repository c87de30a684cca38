package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tedeval/internal/models"
	"tedeval/pkg/cells"
	"tedeval/pkg/config"
	"tedeval/pkg/imagestack"
	"tedeval/pkg/measures"
	"tedeval/pkg/report"
	"tedeval/pkg/ted"
)

func main() {
	// Parse command line arguments
	gtDir := flag.String("gt", "groundtruth", "Directory containing the ground truth image stack")
	recDir := flag.String("rec", "reconstruction", "Directory containing the reconstruction image stack")
	configPath := flag.String("config", "config.yaml", "Configuration file")
	threshold := flag.Float64("threshold", 10.0, "Maximum allowed boundary shift in physical units")
	skeleton := flag.Bool("skeleton", false, "Ground truth consists of skeletons only")
	reportFPFN := flag.Bool("fpfn", false, "Report background splits/merges as false positives/negatives")
	allowBG := flag.Bool("allow-bg", false, "Allow background to appear between shifted boundaries")
	gtBG := flag.Uint64("gt-bg", 0, "Ground truth background label")
	recBG := flag.Uint64("rec-bg", 0, "Reconstruction background label")
	locations := flag.Bool("locations", false, "Report split/merge error locations")
	extractGT := flag.Bool("extract-gt-labels", false, "Relabel connected foreground components of the ground truth")
	reportVOI := flag.Bool("voi", false, "Also report variation of information")
	reportRand := flag.Bool("rand", false, "Also report adapted Rand error")
	reportDO := flag.Bool("detection-overlap", false, "Also report detection overlap (2D only)")
	plotFile := flag.String("plot-file", "", "Append a tab-separated single-line error report to the given file")
	plotHeader := flag.Bool("plot-header", false, "Print a single-line header in the plot file instead of computing errors")
	errorFiles := flag.Bool("error-files", false, "Create splits.dat and merges.dat (with -fpfn also fps.dat and fns.dat)")
	correctedDir := flag.String("corrected", "", "Directory to save the corrected reconstruction (overrides config)")
	timeout := flag.Float64("timeout", 0, "Solver timeout in seconds, 0 for unbounded")
	threads := flag.Int("threads", 0, "Number of worker threads, 0 for one per CPU")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// command line flags override the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threshold":
			cfg.Evaluation.DistanceThreshold = *threshold
		case "skeleton":
			cfg.Evaluation.Skeleton = *skeleton
		case "fpfn":
			cfg.Evaluation.ReportFPFN = *reportFPFN
		case "allow-bg":
			cfg.Evaluation.AllowBackgroundAppearance = *allowBG
		case "gt-bg":
			cfg.Evaluation.GTBackgroundLabel = *gtBG
		case "rec-bg":
			cfg.Evaluation.RecBackgroundLabel = *recBG
		case "locations":
			cfg.Evaluation.ReportLocations = *locations
		case "voi":
			cfg.Measures.VOI = *reportVOI
		case "rand":
			cfg.Measures.Rand = *reportRand
		case "detection-overlap":
			cfg.Measures.DetectionOverlap = *reportDO
		case "plot-file":
			cfg.Output.PlotFile = *plotFile
		case "corrected":
			cfg.Output.CorrectedDir = *correctedDir
		case "timeout":
			cfg.Solver.TimeoutSeconds = *timeout
		case "threads":
			cfg.Solver.NumThreads = *threads
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})

	setupLogging(cfg.Output.Verbose)

	policy := ted.Policy{
		DistanceThreshold:         cfg.Evaluation.DistanceThreshold,
		ReportFPFN:                cfg.Evaluation.ReportFPFN,
		AllowBackgroundAppearance: cfg.Evaluation.AllowBackgroundAppearance,
		GTBackground:              models.Label(cfg.Evaluation.GTBackgroundLabel),
		RecBackground:             models.Label(cfg.Evaluation.RecBackgroundLabel),
		SolverTimeout:             time.Duration(cfg.Solver.TimeoutSeconds * float64(time.Second)),
		NumThreads:                cfg.Solver.NumThreads,
		ReportLocations:           cfg.Evaluation.ReportLocations,
	}
	if cfg.Evaluation.Skeleton {
		policy.Mode = ted.Skeleton
	}

	// header-only mode writes the plot file header and exits
	if *plotHeader {
		rep := report.New()
		if cfg.Measures.VOI {
			rep.Add(&measures.VOIErrors{})
		}
		if cfg.Measures.Rand {
			rep.Add(&measures.RandErrors{})
		}
		if cfg.Measures.DetectionOverlap {
			rep.Add(&measures.DetectionOverlapErrors{})
		}
		rep.Add(ted.NewErrors())

		if err := appendLine(cfg.Output.PlotFile, rep.Header()); err != nil {
			log.Fatal().Err(err).Msg("failed to write plot file header")
		}
		return
	}

	// load the two label volumes
	gt, err := imagestack.ReadDirectory(*gtDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *gtDir).Msg("failed to load ground truth")
	}
	rec, err := imagestack.ReadDirectory(*recDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *recDir).Msg("failed to load reconstruction")
	}

	log.Info().
		Str("voxels", humanize.Comma(int64(gt.NumVoxels()))).
		Float64("res_x", gt.Res.X).Float64("res_y", gt.Res.Y).Float64("res_z", gt.Res.Z).
		Msg("loaded volumes")

	if *extractGT {
		gt = cells.ExtractForeground(gt, policy.GTBackground)
	}

	rep := report.New()

	if cfg.Measures.VOI {
		voi, err := measures.VariationOfInformation(gt, rec, cfg.Measures.IgnoreBackground)
		if err != nil {
			log.Fatal().Err(err).Msg("variation of information failed")
		}
		rep.Add(voi)
	}

	if cfg.Measures.Rand {
		rand, err := measures.AdaptedRand(gt, rec, cfg.Measures.IgnoreBackground)
		if err != nil {
			log.Fatal().Err(err).Msg("adapted Rand error failed")
		}
		rep.Add(rand)
	}

	if cfg.Measures.DetectionOverlap {
		do, err := measures.DetectionOverlap(gt, rec)
		if err != nil {
			log.Fatal().Err(err).Msg("detection overlap failed")
		}
		rep.Add(do)
	}

	startTime := time.Now()
	tedErrors, err := ted.Compute(gt, rec, policy)
	if err != nil {
		log.Fatal().Err(err).Msg("tolerant edit distance failed")
	}
	rep.Add(tedErrors)

	fmt.Println(rep.HumanReadable())
	fmt.Printf("computed in %.2fs (%s solver variables, %.2fs solver time)\n",
		time.Since(startTime).Seconds(),
		humanize.Comma(int64(tedErrors.NumVariables)),
		tedErrors.SolverTime.Seconds())
	if tedErrors.TimedOut {
		fmt.Println("warning: solver time budget expired, counts are from the best incumbent")
	}

	// save corrected reconstruction
	if cfg.Output.CorrectedDir != "" && tedErrors.Corrected != nil {
		if err := imagestack.WriteDirectory(cfg.Output.CorrectedDir, tedErrors.Corrected); err != nil {
			log.Fatal().Err(err).Msg("failed to write corrected reconstruction")
		}
	}

	if *errorFiles {
		if err := writeErrorFiles(tedErrors); err != nil {
			log.Fatal().Err(err).Msg("failed to write error files")
		}
	}

	if cfg.Output.PlotFile != "" {
		if err := appendLine(cfg.Output.PlotFile, rep.TSVLine()); err != nil {
			log.Fatal().Err(err).Msg("failed to write plot file")
		}
	}
}

func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}

// appendLine appends a single line to the given file, creating it if needed.
func appendLine(path, line string) error {
	if path == "" {
		return fmt.Errorf("no plot file given")
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = fmt.Fprintln(file, line)
	return err
}

// writeErrorFiles reports which label got split or merged into which, one
// label per line followed by its partners.
func writeErrorFiles(errors *ted.Errors) error {
	splitFile, err := os.Create("splits.dat")
	if err != nil {
		return err
	}
	defer splitFile.Close()
	for _, gtLabel := range errors.SplitLabels() {
		fmt.Fprintf(splitFile, "%d\t", gtLabel)
		for _, recLabel := range errors.Splits(gtLabel) {
			fmt.Fprintf(splitFile, "%d\t", recLabel)
		}
		fmt.Fprintln(splitFile)
	}

	mergeFile, err := os.Create("merges.dat")
	if err != nil {
		return err
	}
	defer mergeFile.Close()
	for _, recLabel := range errors.MergeLabels() {
		fmt.Fprintf(mergeFile, "%d\t", recLabel)
		for _, gtLabel := range errors.Merges(recLabel) {
			fmt.Fprintf(mergeFile, "%d\t", gtLabel)
		}
		fmt.Fprintln(mergeFile)
	}

	if !errors.HasBackground() {
		return nil
	}

	fps, err := errors.FalsePositives()
	if err != nil {
		return err
	}
	fpFile, err := os.Create("fps.dat")
	if err != nil {
		return err
	}
	defer fpFile.Close()
	for _, recLabel := range fps {
		fmt.Fprintln(fpFile, recLabel)
	}

	fns, err := errors.FalseNegatives()
	if err != nil {
		return err
	}
	fnFile, err := os.Create("fns.dat")
	if err != nil {
		return err
	}
	defer fnFile.Close()
	for _, gtLabel := range fns {
		fmt.Fprintln(fnFile, gtLabel)
	}

	return nil
}
