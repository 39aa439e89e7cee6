package workflow

// Params carries the engine-independent knobs shared by all graph builders.
// Values come from configuration; builders do not apply defaults.
type Params struct {
	// Checkpoint is the image model loaded by text-to-image and edit graphs.
	Checkpoint string

	// VideoCheckpoint is the image-to-video model.
	VideoCheckpoint string

	// Width and Height are the render dimensions.
	Width  int
	Height int

	// Steps is the sampler step count for image graphs.
	Steps int

	// VideoFrames is the frame count for video renders.
	VideoFrames int

	// FPS is the frame rate for video renders.
	FPS int

	// FilenamePrefix groups the run's artifacts engine-side, typically
	// "studio/<session id>".
	FilenamePrefix string
}

// ref builds a node-output reference as the engine expects it.
func ref(nodeID string, output int) []any {
	return []any{nodeID, output}
}

// TextToImage renders one image from a prompt.
func TextToImage(p Params, prompt, negative string, seed int64) Graph {
	return Graph{
		"1": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{
			"ckpt_name": p.Checkpoint,
		}},
		"2": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": prompt,
			"clip": ref("1", 1),
		}},
		"3": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": negative,
			"clip": ref("1", 1),
		}},
		"4": {ClassType: "EmptyLatentImage", Inputs: map[string]any{
			"width":      p.Width,
			"height":     p.Height,
			"batch_size": 1,
		}},
		"5": {ClassType: "KSampler", Inputs: map[string]any{
			"model":        ref("1", 0),
			"positive":     ref("2", 0),
			"negative":     ref("3", 0),
			"latent_image": ref("4", 0),
			"seed":         seed,
			"steps":        p.Steps,
			"cfg":          7.0,
			"sampler_name": "euler",
			"scheduler":    "normal",
			"denoise":      1.0,
		}},
		"6": {ClassType: "VAEDecode", Inputs: map[string]any{
			"samples": ref("5", 0),
			"vae":     ref("1", 2),
		}},
		"7": {ClassType: "SaveImage", Inputs: map[string]any{
			"images":          ref("6", 0),
			"filename_prefix": p.FilenamePrefix,
		}},
	}
}

// StyleTransfer renders an image from a prompt while pulling the look of an
// uploaded reference image through an image-prompt adapter. weight in [0, 1]
// controls how strongly the reference dominates; the character agent derives
// it from the detected art style.
func StyleTransfer(p Params, prompt, negative, refImage string, weight float64, seed int64) Graph {
	return Graph{
		"1": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{
			"ckpt_name": p.Checkpoint,
		}},
		"2": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": prompt,
			"clip": ref("1", 1),
		}},
		"3": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": negative,
			"clip": ref("1", 1),
		}},
		"4": {ClassType: "LoadImage", Inputs: map[string]any{
			"image": refImage,
		}},
		"5": {ClassType: "IPAdapterUnifiedLoader", Inputs: map[string]any{
			"model":  ref("1", 0),
			"preset": "PLUS (high strength)",
		}},
		"6": {ClassType: "IPAdapter", Inputs: map[string]any{
			"model":       ref("5", 0),
			"ipadapter":   ref("5", 1),
			"image":       ref("4", 0),
			"weight":      weight,
			"start_at":    0.0,
			"end_at":      1.0,
			"weight_type": "standard",
		}},
		"7": {ClassType: "EmptyLatentImage", Inputs: map[string]any{
			"width":      p.Width,
			"height":     p.Height,
			"batch_size": 1,
		}},
		"8": {ClassType: "KSampler", Inputs: map[string]any{
			"model":        ref("6", 0),
			"positive":     ref("2", 0),
			"negative":     ref("3", 0),
			"latent_image": ref("7", 0),
			"seed":         seed,
			"steps":        p.Steps,
			"cfg":          7.0,
			"sampler_name": "euler",
			"scheduler":    "normal",
			"denoise":      1.0,
		}},
		"9": {ClassType: "VAEDecode", Inputs: map[string]any{
			"samples": ref("8", 0),
			"vae":     ref("1", 2),
		}},
		"10": {ClassType: "SaveImage", Inputs: map[string]any{
			"images":          ref("9", 0),
			"filename_prefix": p.FilenamePrefix,
		}},
	}
}

// ImageToVideo animates an uploaded still image into a short clip.
func ImageToVideo(p Params, image string, seed int64) Graph {
	return Graph{
		"1": {ClassType: "ImageOnlyCheckpointLoader", Inputs: map[string]any{
			"ckpt_name": p.VideoCheckpoint,
		}},
		"2": {ClassType: "LoadImage", Inputs: map[string]any{
			"image": image,
		}},
		"3": {ClassType: "SVD_img2vid_Conditioning", Inputs: map[string]any{
			"clip_vision":        ref("1", 1),
			"init_image":         ref("2", 0),
			"vae":                ref("1", 2),
			"width":              p.Width,
			"height":             p.Height,
			"video_frames":       p.VideoFrames,
			"motion_bucket_id":   127,
			"fps":                p.FPS,
			"augmentation_level": 0.0,
		}},
		"4": {ClassType: "KSampler", Inputs: map[string]any{
			"model":        ref("1", 0),
			"positive":     ref("3", 0),
			"negative":     ref("3", 1),
			"latent_image": ref("3", 2),
			"seed":         seed,
			"steps":        20,
			"cfg":          2.5,
			"sampler_name": "euler",
			"scheduler":    "karras",
			"denoise":      1.0,
		}},
		"5": {ClassType: "VAEDecode", Inputs: map[string]any{
			"samples": ref("4", 0),
			"vae":     ref("1", 2),
		}},
		"6": {ClassType: "VHS_VideoCombine", Inputs: map[string]any{
			"images":          ref("5", 0),
			"frame_rate":      p.FPS,
			"format":          "video/h264-mp4",
			"filename_prefix": p.FilenamePrefix,
			"save_output":     true,
		}},
	}
}

// BackgroundRemoval strips the background from an uploaded image.
func BackgroundRemoval(p Params, image string) Graph {
	return Graph{
		"1": {ClassType: "LoadImage", Inputs: map[string]any{
			"image": image,
		}},
		"2": {ClassType: "InspyrenetRembg", Inputs: map[string]any{
			"image":           ref("1", 0),
			"torchscript_jit": "default",
		}},
		"3": {ClassType: "SaveImage", Inputs: map[string]any{
			"images":          ref("2", 0),
			"filename_prefix": p.FilenamePrefix,
		}},
	}
}

// ImageEdit re-renders an uploaded image with a new instruction. denoise in
// (0, 1] controls how much of the original survives; the character agent maps
// edit kinds (face, hair, item removal, general) to fixed denoise levels.
func ImageEdit(p Params, image, prompt, negative string, denoise float64, seed int64) Graph {
	return Graph{
		"1": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{
			"ckpt_name": p.Checkpoint,
		}},
		"2": {ClassType: "LoadImage", Inputs: map[string]any{
			"image": image,
		}},
		"3": {ClassType: "VAEEncode", Inputs: map[string]any{
			"pixels": ref("2", 0),
			"vae":    ref("1", 2),
		}},
		"4": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": prompt,
			"clip": ref("1", 1),
		}},
		"5": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": negative,
			"clip": ref("1", 1),
		}},
		"6": {ClassType: "KSampler", Inputs: map[string]any{
			"model":        ref("1", 0),
			"positive":     ref("4", 0),
			"negative":     ref("5", 0),
			"latent_image": ref("3", 0),
			"seed":         seed,
			"steps":        p.Steps,
			"cfg":          7.0,
			"sampler_name": "euler",
			"scheduler":    "normal",
			"denoise":      denoise,
		}},
		"7": {ClassType: "VAEDecode", Inputs: map[string]any{
			"samples": ref("6", 0),
			"vae":     ref("1", 2),
		}},
		"8": {ClassType: "SaveImage", Inputs: map[string]any{
			"images":          ref("7", 0),
			"filename_prefix": p.FilenamePrefix,
		}},
	}
}
