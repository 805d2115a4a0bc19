package drive

// SpaceAppData is the application-private storage space. Files created
// here are invisible to the user's regular Drive contents and to every
// other application.
const SpaceAppData = "appDataFolder"

// MimeTypeWorldArchive is the content type used for stored world archives.
const MimeTypeWorldArchive = "application/zip"

// Object is the subset of remote file metadata this client reads and
// writes. Name carries the world id and Description carries the
// human-readable world name.
type Object struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Descriptor is an approximate, partially-filled specification of a
// remote object, used both to look one up and to create one. Empty
// string fields are treated as absent.
type Descriptor struct {
	ID          string
	Name        string
	Description string
	MimeType    string
}

// Matches reports whether an existing remote object matches a
// descriptor. The first non-absent field wins, in priority order: id,
// then name, then description. A descriptor with no fields set matches
// nothing.
func (d Descriptor) Matches(obj Object) bool {
	switch {
	case d.ID != "":
		return obj.ID == d.ID
	case d.Name != "":
		return obj.Name == d.Name
	case d.Description != "":
		return obj.Description == d.Description
	default:
		return false
	}
}

// fileList is one page of the remote listing endpoint's response.
type fileList struct {
	NextPageToken string   `json:"nextPageToken"`
	Files         []Object `json:"files"`
}

// generatedIDs is the response of the id-minting endpoint.
type generatedIDs struct {
	IDs []string `json:"ids"`
}

// createRequest is the metadata body submitted when creating an object.
// Parents pins the object into the application-private space.
type createRequest struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	MimeType    string   `json:"mimeType,omitempty"`
	Parents     []string `json:"parents,omitempty"`
}

// updateMetadata is the metadata resubmitted alongside new content on
// overwrite. The id is addressed in the URL and must never appear here,
// and the v3 API rejects parents on update, so both are left out.
type updateMetadata struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}
