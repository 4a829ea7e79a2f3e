package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Register wires the toolset into an MCP server. All six tools have
// identical signatures regardless of which backend is configured.
func (t *Toolset) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("create_sandbox",
		mcp.WithDescription("Create a linux sandbox and get the `sandbox_id` for safely executing "+
			"commands and running python code. The sandbox may timeout and automatically shutdown; "+
			"if so, create a new sandbox. Wait for `create_sandbox` to return the `sandbox_id` "+
			"before using it in subsequent messages."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(t.CreateSandbox(ctx)), nil
	})

	s.AddTool(mcp.NewTool("run_command",
		mcp.WithDescription("Execute a shell command in the linux sandbox. The sandbox is already "+
			"installed with common system packages for the task."),
		mcp.WithString("sandbox_id", mcp.Required(), mcp.Description("The id of the existing sandbox (from `create_sandbox`).")),
		mcp.WithString("command", mcp.Required(), mcp.Description("The shell command to execute.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sandboxID, err := req.RequireString("sandbox_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(t.RunCommand(ctx, sandboxID, command)), nil
	})

	s.AddTool(mcp.NewTool("run_python_code",
		mcp.WithDescription("Run python code in the sandbox and return the execution result. The "+
			"sandbox is already installed with common python packages for the task."),
		mcp.WithString("sandbox_id", mcp.Required(), mcp.Description("The id of the existing sandbox (from `create_sandbox`).")),
		mcp.WithString("code_block", mcp.Required(), mcp.Description("The python code to run.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sandboxID, err := req.RequireString("sandbox_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		codeBlock, err := req.RequireString("code_block")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(t.RunPythonCode(ctx, sandboxID, codeBlock)), nil
	})

	s.AddTool(mcp.NewTool("upload_file_from_local_to_sandbox",
		mcp.WithDescription("Upload a local file to the sandbox."),
		mcp.WithString("sandbox_id", mcp.Required(), mcp.Description("The id of the existing sandbox (from `create_sandbox`).")),
		mcp.WithString("local_file_path", mcp.Required(), mcp.Description("The local path of the file to upload.")),
		mcp.WithString("sandbox_file_path", mcp.Description("Destination directory in the sandbox. Default is `/home/sandbox/`.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sandboxID, err := req.RequireString("sandbox_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		localPath, err := req.RequireString("local_file_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sandboxDir := req.GetString("sandbox_file_path", "")
		return mcp.NewToolResultText(t.UploadFile(ctx, sandboxID, localPath, sandboxDir)), nil
	})

	s.AddTool(mcp.NewTool("download_file_from_internet_to_sandbox",
		mcp.WithDescription("Download a file from the internet into the sandbox."),
		mcp.WithString("sandbox_id", mcp.Required(), mcp.Description("The id of the existing sandbox (from `create_sandbox`).")),
		mcp.WithString("url", mcp.Required(), mcp.Description("The URL of the file to download.")),
		mcp.WithString("sandbox_file_path", mcp.Description("Destination directory in the sandbox. Default is `/home/sandbox/`.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sandboxID, err := req.RequireString("sandbox_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fileURL, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sandboxDir := req.GetString("sandbox_file_path", "")
		return mcp.NewToolResultText(t.DownloadFromInternet(ctx, sandboxID, fileURL, sandboxDir)), nil
	})

	s.AddTool(mcp.NewTool("download_file_from_sandbox_to_local",
		mcp.WithDescription("Download a file from the sandbox to the local system. Files in the "+
			"sandbox cannot be processed by tools from other servers; only local files and "+
			"internet URLs can."),
		mcp.WithString("sandbox_id", mcp.Required(), mcp.Description("The id of the sandbox (from `create_sandbox`).")),
		mcp.WithString("sandbox_file_path", mcp.Required(), mcp.Description("Path of the file inside the sandbox.")),
		mcp.WithString("local_filename", mcp.Description("Optional filename to save as.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sandboxID, err := req.RequireString("sandbox_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sandboxPath, err := req.RequireString("sandbox_file_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		localFilename := req.GetString("local_filename", "")
		return mcp.NewToolResultText(t.DownloadToLocal(ctx, sandboxID, sandboxPath, localFilename)), nil
	})
}
