// Command lokeflash is a minimal demonstration front end over the
// orchestrator package: detect a download-mode device, optionally upload a
// PIT, flash a list of name=path partitions, and end the session. It is not
// the CLI the original project ships — no argument grammar beyond flags,
// no firmware-package archive support.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/daedaluz/lokeflash/orchestrator"
)

type flashFlag struct {
	name string
	path string
}

type flashFlagList []flashFlag

func (l *flashFlagList) String() string {
	parts := make([]string, len(*l))
	for i, f := range *l {
		parts[i] = f.name + "=" + f.path
	}
	return strings.Join(parts, ",")
}

func (l *flashFlagList) Set(value string) error {
	name, path, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected name=path, got %q", value)
	}
	*l = append(*l, flashFlag{name: name, path: path})
	return nil
}

func main() {
	var (
		reboot      = flag.Bool("reboot", true, "reboot the device after the session ends")
		resume      = flag.Bool("resume", false, "skip the ODIN/LOKE handshake, assuming a mid-session device")
		tflash      = flag.Bool("tflash", false, "redirect writes to an inserted SD card")
		repartition = flag.Bool("repartition", false, "upload -pit before flashing")
		pitPath     = flag.String("pit", "", "path to a PIT file, for -repartition or as a mismatch guard")
		flashes     flashFlagList
	)
	flag.Var(&flashes, "flash", "name=path pair to flash; may be repeated")
	flag.Parse()

	logger := log.New(os.Stderr, "lokeflash: ", log.LstdFlags)
	o := orchestrator.New(logger)

	if !o.Detect() {
		logger.Println("no download-mode device found")
		os.Exit(1)
	}

	var pitBytes []byte
	if *pitPath != "" {
		data, err := os.ReadFile(*pitPath)
		if err != nil {
			logger.Fatalf("read pit: %v", err)
		}
		pitBytes = data
	}

	progress := mpb.New(mpb.WithWidth(60))
	inputs := make([]orchestrator.FlashInput, 0, len(flashes))
	for _, f := range flashes {
		file, err := os.Open(f.path)
		if err != nil {
			logger.Fatalf("open %s: %v", f.path, err)
		}
		defer file.Close()
		info, err := file.Stat()
		if err != nil {
			logger.Fatalf("stat %s: %v", f.path, err)
		}
		inputs = append(inputs, orchestrator.FlashInput{
			Selector: orchestrator.Named(f.name),
			Source:   file,
			Size:     info.Size(),
		})
	}

	opts := orchestrator.FlashOptions{
		Repartition: *repartition,
		Reboot:      *reboot,
		Resume:      *resume,
		TFlash:      *tflash,
		PIT:         pitBytes,
		Progress:    attachBars(progress, inputs),
	}

	if err := o.Flash(inputs, opts); err != nil {
		progress.Wait()
		logger.Fatalf("flash failed: %v", err)
	}
	progress.Wait()
}

// attachBars renders one progress bar per partition, in flash order. The
// orchestrator flashes inputs strictly sequentially and its Progress
// callback only ever reports the partition currently in flight, so a bar
// is considered done and the next one activated as soon as a call reports
// sent == total.
func attachBars(p *mpb.Progress, inputs []orchestrator.FlashInput) func(sent, total int64) {
	bars := make([]*mpb.Bar, len(inputs))
	for i, in := range inputs {
		bars[i] = p.AddBar(in.Size,
			mpb.PrependDecorators(decor.Name(in.Selector.String())),
			mpb.AppendDecorators(decor.Percentage()),
		)
	}
	active := 0
	return func(sent, total int64) {
		if active >= len(bars) {
			return
		}
		bars[active].SetCurrent(sent)
		if sent >= total {
			active++
		}
	}
}
