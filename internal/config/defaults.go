package config

const (
	// DefaultBaseURL is the public Gemini API endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com/"
	// DefaultModelName is the high-quality image model
	DefaultModelName = "gemini-3-pro-image-preview"
	// DefaultAspectRatio keeps every stage square
	DefaultAspectRatio = "1:1"
	// DefaultReferenceMIMEType is what the final stage comes back as
	DefaultReferenceMIMEType = "image/png"
)

// GetDefaultStage1Template returns the rough mass instruction
func GetDefaultStage1Template() string {
	return `Transform this reference image of {{.Description}} into the very first stage of sculpting: A single, smooth, amorphous lump of wet grey clay. It should capture the approximate volume and silhouette of the subject but must have ABSOLUTELY NO INTERNAL DETAIL. No face, no limbs defined, no texture. It should look like a smooth potato-shaped mass or a river stone in the vague shape of the subject. Keep the exact same camera angle and lighting.`
}

// GetDefaultStage2Template returns the blocking instruction
func GetDefaultStage2Template() string {
	return `Transform this reference image of {{.Description}} into the blocking stage: The subject is constructed from distinct, crude geometric masses of clay (spheres, cylinders, blocks) pressed together. It shows the correct configuration, pose, and orientation of the final product, but the forms are simple and facetted. NO fine details, NO eyes, NO hair texture. It looks like a low-resolution structural study. Keep the exact same camera angle.`
}

// GetDefaultStage3Template returns the work-in-progress instruction
func GetDefaultStage3Template() string {
	return `Transform this reference image of {{.Description}} into a work-in-progress stage: The geometric blocks have been smoothed together and the primary anatomy is defined. Details are just beginning to emerge, eyes and features are faintly marked or sketched. The surface is rough, covered in rake marks, thumb prints, and clay pellets. It looks like an expressive, unfinished bozzetto. Keep the exact same camera angle.`
}

// GetDefaultStage4Template returns the finished piece generation prompt
func GetDefaultStage4Template() string {
	return `A finished, highly detailed masterpiece wet grey clay sculpture of {{.Description}}. Intricate textures, lifelike details, perfect proportions. The clay looks wet and malleable. Dramatic studio lighting. Photorealistic studio photography.`
}

// GetDefaultFallbackTemplate is used for any combination without a dedicated prompt
func GetDefaultFallbackTemplate() string {
	return `A clay sculpture of {{.Description}}`
}
