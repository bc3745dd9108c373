// Package ledgerd is an MCP gateway that gives a bookkeeping assistant lazy
// access to a Xero organisation and a Gmail mailbox.
//
// The MCP manifest holds exactly two tools. get_tools_in_category returns the
// tools of one category that the caller's permission level allows, with
// their input schemas. execute_tool validates arguments against that schema,
// checks the permission level again and dispatches to the Xero or Gmail
// executor. Tool definitions therefore only enter the model context when a
// category is requested.
//
// # Running a server
//
//	cfg := ledgerd.Config{
//	    Listen:          ":9443",
//	    BaseURL:         "https://ledger.example.com",
//	    TokenFile:       "/etc/ledgerd/tokens.yaml",
//	    CredentialsFile: "/etc/ledgerd/credentials.yaml",
//	    BlobStore:       "s3://minio:9000/ledgerd/resources?insecure=true",
//	    ResourceIndex:   "redis://redis:6379/0",
//	    PermissionStore: "postgres://ledgerd@db/ledgerd",
//	}
//	srv, err := ledgerd.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("ledgerd: %v", err)
//	    }
//	}()
//	defer srv.Shutdown(context.Background())
//
// # Large results
//
// Reports, lists and exports are stored as resources that expire one hour
// after creation. Payloads up to 400KB stay in the resource index; larger
// ones go to the blob store (mem://, disk://, s3:// or azure://), compressed
// with zstd unless configured otherwise. When the serialized result exceeds
// the inline threshold the tool response carries a preview plus a link to
// {BaseURL}/resources/{id}. The link is readable through MCP resources/read
// or plain HTTP GET with the same bearer token, and only by the user that
// created it.
//
// # Permissions
//
// Every user has one of four levels: read_only, create_draft,
// approve_update and full_access. Users without a record are read_only. Levels
// are stored in memory, Postgres or SQLite and changed with
// `ledgerd permissions set`.
//
// # Authentication
//
// The HTTP transport requires a bearer token. A YAML token file maps tokens
// to user ids and is reloaded when it changes. Dev auth accepts the bearer
// value itself as the user id and must not be exposed publicly.
package ledgerd
