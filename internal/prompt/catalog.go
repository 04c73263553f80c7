package prompt

// The diverse-prompt catalogs are indexed with i mod len, so their
// lengths are deliberately different to spread combinations.

var environments = []string{
	"in a sunlit modern dance studio with wooden floor and wall mirrors",
	"on a neon-lit city rooftop at night with skyline bokeh",
	"on a tropical beach at golden hour with soft waves behind",
	"in an elegant marble ballroom with crystal chandeliers",
	"on an urban street with graffiti walls and warm street lights",
	"on a minimalist white photo studio cyclorama",
	"in a lush botanical garden with hanging greenery",
	"on a concert stage with haze and colored spotlights",
}

var poses = []string{
	"standing in a confident dance-ready stance",
	"mid-step in a graceful dance move with arms extended",
	"turning over one shoulder toward the camera",
	"leaning slightly forward with one hand on the hip",
	"poised on the balls of the feet with a relaxed smile",
	"frozen in a dynamic spin with flowing clothing",
}

var lightingSetups = []string{
	"soft diffused key light with gentle fill",
	"dramatic rim lighting with deep shadows",
	"warm golden-hour sunlight",
	"cool cinematic teal and orange grading",
	"bright even beauty lighting",
}

var cameraAngles = []string{
	"full-body shot at eye level",
	"three-quarter portrait from a low angle",
	"medium shot from slightly above",
	"wide full-body shot with environment visible",
}

var technicalSpecs = []string{
	"shot on 85mm lens, f/1.8, sharp focus on the face, natural skin texture",
	"shot on 35mm lens, f/2.8, crisp details, realistic fabric texture",
	"shot on 50mm lens, f/2.0, shallow depth of field, true-to-life colors",
}

var videoMovements = []string{
	"smooth rhythmic dance with flowing arm movements",
	"energetic hip-hop grooves with sharp footwork",
	"graceful contemporary dance with slow spins",
	"playful pop choreography with bouncy steps",
	"elegant latin dance with fluid hip motion",
	"confident runway-style walk that breaks into a dance",
}

var videoCameras = []string{
	"static camera, full body in frame",
	"slow dolly-in toward the dancer",
	"gentle orbit around the dancer",
	"handheld tracking shot following the movement",
	"slow tilt up from feet to face",
}
