// Package prompts holds the instruction generators handed to the task-request
// service. Each Function prints a fixed description of the output the model is
// expected to produce for a given input; the service wraps it into a single
// system message.
package prompts

type Function struct {
	Name string
	Body string
}

// Instruction ignores its input: the instruction text is fixed per function.
func (f Function) Instruction(string) string {
	return f.Body
}

var ConvertUserInputToGoal = Function{
	Name: "convert_user_input_to_goal",
	Body: `convert_user_input_to_goal(user_request)
    Input: takes in a user request
    Function: converts the user request into a short summarised goal
    Example input: "I need a website that lets users login and logout. It needs to look fancy and accept payments."
    Example output: "build a website that handles users logging in and logging out and accepts payments"`,
}

var PrintProjectScope = Function{
	Name: "print_project_scope",
	Body: `print_project_scope(project_description)
    Input: takes in a user request to build a website project description
    Function: converts the user request into a JSON response of the exact format
        {"is_crud_required": bool, "is_user_login_and_logout": bool, "is_external_urls_required": bool}
    Important: only print the JSON object and nothing else
    Example 1:
        user_request = "I need a full stack website that accepts users and gets stock price data"
        prints: {"is_crud_required": true, "is_user_login_and_logout": true, "is_external_urls_required": true}
    Example 2:
        user_request = "I need a simple TODO app"
        prints: {"is_crud_required": true, "is_user_login_and_logout": false, "is_external_urls_required": false}`,
}

var PrintSiteURLs = Function{
	Name: "print_site_urls",
	Body: `print_site_urls(project_description)
    Input: takes in a project description of a website build
    Function: outputs a list of external public API endpoints that should be used in the building of the website
    Important: only selects url endpoint(s) which do not require any API keys at all
    Important: provides the list as a JSON array of strings and nothing else
    Example:
        prints: ["https://api.binance.com/api/v3/exchangeInfo", "https://api.binance.com/api/v3/klines?symbol=BTCUSDT&interval=1d"]`,
}

var PrintBackendWebserverCode = Function{
	Name: "print_backend_webserver_code",
	Body: `print_backend_webserver_code(code_template_and_project_description)
    Input: takes in a PROJECT DESCRIPTION and a CODE TEMPLATE for a website backend build
    Function: rewrites the CODE TEMPLATE, in the same language and framework, so that it fulfils the PROJECT DESCRIPTION
    Important: the backend code is ONLY a web server; it keeps the template's file-backed storage and listening address
    Important: remove any routes or models the project does not need and add any it does
    Important: the output is the complete source of a single file that compiles as-is
    Important: only prints the code, with no markdown fences and no commentary`,
}

var PrintImprovedWebserverCode = Function{
	Name: "print_improved_webserver_code",
	Body: `print_improved_webserver_code(code_and_fact_sheet)
    Input: takes in the current backend CODE and the project FACT SHEET
    Function: performs the following tasks:
        1. removes any bugs in the code and adds minor additional functionality
        2. makes sure everything requested in the fact sheet is implemented
        3. adds routes calling the external urls of the fact sheet, if any
    Important: keeps the same language, framework and listening address
    Important: only prints the complete code, with no markdown fences and no commentary`,
}

var PrintFixedCode = Function{
	Name: "print_fixed_code",
	Body: `print_fixed_code(broken_code_with_bugs)
    Input: takes in BROKEN CODE and the ERROR BUGS found while building it
    Function: removes the bugs from the code
    Important: only prints the complete fixed code, with no markdown fences and no commentary`,
}

var PrintRestAPIEndpoints = Function{
	Name: "print_rest_api_endpoints",
	Body: `print_rest_api_endpoints(code_input)
    Input: takes in the source code of a web server
    Function: prints a JSON array describing every REST route the server exposes, in the format
        [{"route": "/item/{id}", "is_route_dynamic": "true", "method": "get",
          "request_body": "None", "response": {"id": "number", "name": "string"}}]
    Important: "is_route_dynamic" is "true" when the route contains a path parameter and "false" otherwise
    Important: only prints the JSON array and nothing else`,
}
