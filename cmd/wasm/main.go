//go:build js && wasm
// +build js,wasm

package main

import (
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/Tartil/pkg/tartil/audio"
	"github.com/himanishpuri/Tartil/pkg/tartil/features"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorResampleFailed
	ErrorExtractionFailed
)

var extractor *features.Extractor

// Computes the Mel spectrogram of mono samples, ready for POST /evaluate/features.
// Returns: {error: number, data: {bands, frames, data: Float32Array} | string}
func tartilExtract(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: audioArray, sampleRate, bands")
	}

	audioDataJS := args[0]
	sampleRateJS := args[1]
	bandsJS := args[2]

	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array or Float32Array")
	}
	if sampleRateJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate must be a number")
	}
	if bandsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "bands must be a number")
	}

	sampleRate := sampleRateJS.Int()
	bands := bandsJS.Int()

	if sampleRate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %d", sampleRate))
	}
	if bands < 1 || bands > features.MaxBands {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("bands must be between 1 and %d, got: %d", features.MaxBands, bands))
	}

	length := audioDataJS.Length()
	if length == 0 {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray is empty")
	}

	samples := make([]float64, length)
	for i := 0; i < length; i++ {
		val := audioDataJS.Index(i)
		if val.Type() != js.TypeNumber {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("audioArray element %d is not a number", i))
		}
		samples[i] = val.Float()
	}

	samples, err := audio.Resample(samples, sampleRate, extractor.SampleRate())
	if err != nil {
		return makeErrorResponse(ErrorResampleFailed, fmt.Sprintf("Failed to resample: %v", err))
	}

	spec, err := extractor.Extract(samples, bands)
	if err != nil {
		return makeErrorResponse(ErrorExtractionFailed, fmt.Sprintf("Failed to extract features: %v", err))
	}

	flat := spec.Flat()
	dataJS := js.Global().Get("Float32Array").New(len(flat))
	for i, v := range flat {
		dataJS.SetIndex(i, float64(v))
	}

	payload := js.Global().Get("Object").New()
	payload.Set("bands", spec.Bands())
	payload.Set("frames", spec.Frames())
	payload.Set("data", dataJS)

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", payload)
	return result
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")

	var err error
	extractor, err = features.New(features.DefaultConfig())
	if err != nil {
		if !console.IsUndefined() {
			console.Call("error", "Tartil WASM module failed to initialize:", err.Error())
		}
		return
	}

	done := make(chan struct{})

	js.Global().Set("tartilExtract", js.FuncOf(tartilExtract))
	js.Global().Set("tartilSampleRate", extractor.SampleRate())

	window := js.Global().Get("window")
	if !window.IsUndefined() {
		eventInit := js.Global().Get("Object").New()
		event := js.Global().Get("CustomEvent").New("wasmReady", eventInit)
		window.Call("dispatchEvent", event)
	} else if !console.IsUndefined() {
		console.Call("error", "window object is undefined, wasmReady not dispatched")
	}

	if !console.IsUndefined() {
		console.Call("log", "Tartil WASM module loaded and ready")
	}

	<-done
}
