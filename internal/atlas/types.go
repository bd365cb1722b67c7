package atlas

// Organization is one Atlas organization visible to the credentials.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Project is one Atlas project (API name: group).
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	OrgID        string `json:"orgId"`
	ClusterCount int    `json:"clusterCount"`
	Created      string `json:"created"`
}

// ConnectionStrings holds the URIs a cluster can be reached at.
type ConnectionStrings struct {
	Standard    string `json:"standard"`
	StandardSrv string `json:"standardSrv"`
}

// Cluster is one Atlas cluster of a project.
type Cluster struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	StateName         string            `json:"stateName"`
	ClusterType       string            `json:"clusterType"`
	MongoDBVersion    string            `json:"mongoDBVersion"`
	Paused            bool              `json:"paused"`
	DiskSizeGB        float64           `json:"diskSizeGB"`
	ConnectionStrings ConnectionStrings `json:"connectionStrings"`
}

// AccessListEntry is one IP address or CIDR block granted access to a
// project's clusters. Exactly one of IPAddress and CIDRBlock is set.
type AccessListEntry struct {
	IPAddress string `json:"ipAddress,omitempty"`
	CIDRBlock string `json:"cidrBlock,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// DatabaseUserRole grants a built-in role, optionally scoped to a database
// and collection.
type DatabaseUserRole struct {
	RoleName       string `json:"roleName"`
	DatabaseName   string `json:"databaseName"`
	CollectionName string `json:"collectionName,omitempty"`
}

// DatabaseUser is one database user of a project. DeleteAfterDate, when
// set, makes the user temporary.
type DatabaseUser struct {
	Username        string             `json:"username"`
	Password        string             `json:"password,omitempty"`
	DatabaseName    string             `json:"databaseName"`
	GroupID         string             `json:"groupId"`
	Roles           []DatabaseUserRole `json:"roles"`
	DeleteAfterDate string             `json:"deleteAfterDate,omitempty"`
}

// page is the envelope every Atlas list endpoint responds with.
type page[T any] struct {
	Results    []T `json:"results"`
	TotalCount int `json:"totalCount"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type apiError struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"errorCode"`
}
