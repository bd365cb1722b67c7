package tools

// AllTools contains all tool specifications for the broker. Tools are
// grouped by category; descriptions disambiguate overlapping tools so the
// model picks the right one.
var AllTools = []ToolSpec{
	// ==========================================================================
	// CONNECTION TOOLS
	// ==========================================================================
	{
		Name:          "connect",
		Title:         "Connect to MongoDB",
		Category:      CategoryMongoDB,
		OperationType: OperationConnect,
		Description: `Connect to a MongoDB deployment using a connection string.

USE WHEN: The user provides a connection string, or a previous tool call failed with a NotConnected error.

NOT FOR: Reconnecting after transient errors; other tools reconnect automatically using the active connection string.`,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:          "disconnect",
		Title:         "Disconnect from MongoDB",
		Category:      CategoryMongoDB,
		OperationType: OperationConnect,
		Description:   `Close the current MongoDB connection. Subsequent tools auto-connect with the configured connection string, or fail until connect is called again.`,
		Idempotent:    true,
	},

	// ==========================================================================
	// QUERY TOOLS
	// ==========================================================================
	{
		Name:          "find",
		Title:         "Find Documents",
		Category:      CategoryMongoDB,
		OperationType: OperationRead,
		Description: `Run a query against a collection with optional filter, projection, sort, limit, and skip.

USE WHEN: Retrieving documents by simple criteria.

NOT FOR: Multi-stage transformations or vector search (use aggregate), or bulk retrieval (use export).`,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:          "aggregate",
		Title:         "Run Aggregation",
		Category:      CategoryMongoDB,
		OperationType: OperationRead,
		Description: `Execute an aggregation pipeline against a collection.

Supports $vectorSearch stages: a string queryVector together with embeddingParameters is converted into an embedding automatically. Results are capped by the configured document and byte limits; the summary reports how many documents matched versus how many are returned.

NOT FOR: Simple lookups (use find). Pipelines containing $out or $merge are write operations and are rejected in read-only mode.`,
		OpenWorld: true,
	},
	{
		Name:          "count",
		Title:         "Count Documents",
		Category:      CategoryMongoDB,
		OperationType: OperationRead,
		Description:   `Count the documents in a collection matching an optional filter.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "export",
		Title:         "Export Documents",
		Category:      CategoryMongoDB,
		OperationType: OperationRead,
		Description: `Export documents from a collection as relaxed Extended JSON, one document per line.

USE WHEN: The user wants raw data out of a collection for downstream processing.

NOT FOR: Interactive inspection of a handful of documents (use find).`,
		Idempotent: true,
		OpenWorld:  true,
	},

	// ==========================================================================
	// WRITE TOOLS
	// ==========================================================================
	{
		Name:          "insert-many",
		Title:         "Insert Documents",
		Category:      CategoryMongoDB,
		OperationType: OperationCreate,
		Description: `Insert one or more documents into a collection.

When the vectorSearch preview feature is enabled, embeddingParameters.input maps vector-indexed field paths to raw text; the text is embedded in a single batched call and stored in place of the field.`,
		OpenWorld: true,
	},
	{
		Name:          "update-many",
		Title:         "Update Documents",
		Category:      CategoryMongoDB,
		OperationType: OperationUpdate,
		Description:   `Update all documents in a collection matching a filter, optionally inserting a new document when none match (upsert).`,
		OpenWorld:     true,
	},
	{
		Name:          "delete-many",
		Title:         "Delete Documents",
		Category:      CategoryMongoDB,
		OperationType: OperationDelete,
		Description:   `Delete all documents in a collection matching a filter. An empty filter deletes every document.`,
		Destructive:   true,
		OpenWorld:     true,
	},
	{
		Name:          "drop-collection",
		Title:         "Drop Collection",
		Category:      CategoryMongoDB,
		OperationType: OperationDelete,
		Description:   `Remove a collection and all its documents and indexes from a database.`,
		Destructive:   true,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "drop-database",
		Title:         "Drop Database",
		Category:      CategoryMongoDB,
		OperationType: OperationDelete,
		Description:   `Remove an entire database including all of its collections.`,
		Destructive:   true,
		Idempotent:    true,
		OpenWorld:     true,
	},

	// ==========================================================================
	// INDEX & METADATA TOOLS
	// ==========================================================================
	{
		Name:          "collection-indexes",
		Title:         "List Collection Indexes",
		Category:      CategoryMongoDB,
		OperationType: OperationRead,
		Description:   `List the regular and search indexes of a collection, including vector index field definitions.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "create-index",
		Title:         "Create Index",
		Category:      CategoryMongoDB,
		OperationType: OperationCreate,
		Description:   `Create an index on a collection from a list of (field, direction) keys.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "drop-index",
		Title:         "Drop Index",
		Category:      CategoryMongoDB,
		OperationType: OperationDelete,
		Description:   `Drop a named index from a collection.`,
		Destructive:   true,
		OpenWorld:     true,
	},
	{
		Name:          "list-databases",
		Title:         "List Databases",
		Category:      CategoryMongoDB,
		OperationType: OperationMetadata,
		Description:   `List the databases of the connected deployment.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "list-collections",
		Title:         "List Collections",
		Category:      CategoryMongoDB,
		OperationType: OperationMetadata,
		Description:   `List the collections of a database.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "db-stats",
		Title:         "Database Statistics",
		Category:      CategoryMongoDB,
		OperationType: OperationMetadata,
		Description:   `Return storage statistics for a database (collection count, data size, index size).`,
		Idempotent:    true,
		OpenWorld:     true,
	},

	// ==========================================================================
	// GRAPH ROUTING TOOLS
	// ==========================================================================
	{
		Name:          "shortest_path",
		Title:         "Shortest Path",
		Category:      CategoryMongoDB,
		OperationType: OperationRead,
		Description: `Compute the shortest path between two road-network junctions using Dijkstra's algorithm.

PARAMETERS: startJunction and endJunction are junction IDs; weightField selects cost or length; includeRoadDetails adds per-edge output.

NOT FOR: Endpoints that are AOI gates rather than junctions (use shortest_path_from_gates).`,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:          "shortest_path_from_gates",
		Title:         "Shortest Path From Gates",
		Category:      CategoryMongoDB,
		OperationType: OperationRead,
		Description: `Compute the shortest path between two areas of interest, entering and leaving through their gates on specific roads. Supports walking and driving travel modes; driving excludes footways, cycleways, and steps.

NOT FOR: Junction-to-junction routing (use shortest_path).`,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:          "get_aois_by_poi",
		Title:         "Find AOIs by POI Name",
		Category:      CategoryMongoDB,
		OperationType: OperationRead,
		Description:   `Look up areas of interest whose name matches a point-of-interest name, with exact or fuzzy matching.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "get_roads_by_aoi",
		Title:         "Find Roads by AOI",
		Category:      CategoryMongoDB,
		OperationType: OperationRead,
		Description:   `List the roads that carry gates for a named area of interest.`,
		Idempotent:    true,
		OpenWorld:     true,
	},

	// ==========================================================================
	// ATLAS CONTROL-PLANE TOOLS
	// ==========================================================================
	{
		Name:          "atlas-list-orgs",
		Title:         "List Atlas Organizations",
		Category:      CategoryAtlas,
		OperationType: OperationRead,
		Description:   `List the Atlas organizations accessible to the configured API credentials.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "atlas-list-projects",
		Title:         "List Atlas Projects",
		Category:      CategoryAtlas,
		OperationType: OperationRead,
		Description:   `List Atlas projects, optionally restricted to one organization.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "atlas-list-clusters",
		Title:         "List Atlas Clusters",
		Category:      CategoryAtlas,
		OperationType: OperationRead,
		Description:   `List the clusters of an Atlas project.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "atlas-inspect-cluster",
		Title:         "Inspect Atlas Cluster",
		Category:      CategoryAtlas,
		OperationType: OperationRead,
		Description:   `Return detailed configuration and state for one Atlas cluster, including its connection strings.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
	{
		Name:          "atlas-create-access-list",
		Title:         "Create Atlas IP Access List Entry",
		Category:      CategoryAtlas,
		OperationType: OperationCreate,
		Description:   `Add IP addresses or CIDR blocks to a project's access list so clients can reach its clusters.`,
		OpenWorld:     true,
	},
	{
		Name:          "atlas-create-db-user",
		Title:         "Create Atlas Database User",
		Category:      CategoryAtlas,
		OperationType: OperationCreate,
		Description:   `Create a database user in an Atlas project. Without an explicit password a temporary user with a generated password and a bounded lifetime is created.`,
		OpenWorld:     true,
	},
	{
		Name:          "atlas-list-db-users",
		Title:         "List Atlas Database Users",
		Category:      CategoryAtlas,
		OperationType: OperationRead,
		Description:   `List the database users of an Atlas project.`,
		Idempotent:    true,
		OpenWorld:     true,
	},
}

// FindSpec returns the registered spec with the given name.
func FindSpec(name string) (ToolSpec, bool) {
	for _, spec := range AllTools {
		if spec.Name == name {
			return spec, true
		}
	}
	return ToolSpec{}, false
}
