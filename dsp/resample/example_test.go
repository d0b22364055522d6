package resample_test

import (
	"fmt"

	"github.com/cwbudde/algo-harmony/dsp/resample"
)

func ExampleNewForRates() {
	r, _ := resample.NewForRates(44100, 16000, resample.WithQuality(resample.QualityBest))
	up, down := r.Ratio()
	fmt.Printf("ratio=%d/%d\n", up, down)
	// Output:
	// ratio=160/441
}

func ExampleResampler_ProcessInto() {
	r, _ := resample.NewForRates(48000, 16000, resample.WithBlockSize(480))
	dst := make([]float64, 0, r.MaxOutputLen(480))

	dst = r.ProcessInto(dst, make([]float64, 480))
	fmt.Println(len(dst))
	// Output:
	// 160
}
