// Package loader reads and writes checkpoint files holding attention
// parameters.
//
// Supported formats:
//   - SafeTensors: read and write, F32/F64/F16/BF16 (Hugging Face standard)
//   - PyTorch: read-only, torch.save state dicts (.pt, .pth, .bin) via gopickle
//
// Every reader returns a state dict: parameter name to a Float32 or Float64
// RawTensor on the CPU. Half and bfloat16 data is widened to float32.
//
// Example:
//
//	state, err := loader.Load("attention.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = block.LoadStateDict(state)
package loader
