package cache

const (
	// offering:{id} -> ClassOffering JSON
	KeyOffering = "offering:%s"

	// offerings:list:{generation}:{instructor} -> []ClassOffering JSON
	KeyOfferingList = "offerings:list:%d:%s"

	// Bumped after every settlement so list snapshots roll over.
	KeyListGeneration = "offerings:gen"
)
