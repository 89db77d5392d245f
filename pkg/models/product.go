package models

// ProductType is a merch product the studio can mock up.
type ProductType string

const (
	ProductTShirt ProductType = "t-shirt"
	ProductHoodie ProductType = "hoodie"
	ProductCap    ProductType = "cap"
)

// Products lists the catalog in display order.
var Products = []ProductType{ProductTShirt, ProductHoodie, ProductCap}

var productPrompts = map[ProductType]string{
	ProductTShirt: "Generate a professional product photography shot of a high-quality white cotton t-shirt folded neatly on a wooden surface. The logo provided in the input image should be printed realistically on the center chest area of the t-shirt. Cinematic lighting, 4k, photorealistic texture.",
	ProductHoodie: "Generate a realistic fashion shot of a model wearing a premium black streetwear hoodie in an urban setting at night. The logo provided should be clearly visible printed on the front of the hoodie. Neon city lighting in background, shallow depth of field.",
	ProductCap:    "Generate a close-up macro product shot of a navy blue baseball cap sitting on a concrete surface. The logo provided should be embroidered on the front panel with realistic thread texture. High contrast, dramatic lighting.",
}

// ProductPrompt returns the mockup prompt for a product.
func ProductPrompt(p ProductType) (string, bool) {
	prompt, ok := productPrompts[p]
	return prompt, ok
}
