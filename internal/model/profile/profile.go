package profile

// Profile captures the professional persona the chatbot presents.
type Profile struct {
	Name     string `json:"name"`
	Headline string `json:"headline"`
	Resume   string `json:"resume"`
}

// Default provides the fallback profile used when no resume document is
// available, mirroring the placeholder shipped with the original widget.
func Default() Profile {
	return Profile{
		Name:     "Professional Profile",
		Headline: "Software engineer and cloud architect",
		Resume: "Professional with experience in software development, cloud architecture, and AI/ML.\n" +
			"Skills include Go, Python, AWS, Terraform, and modern DevOps practices.",
	}
}
